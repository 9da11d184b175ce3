package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	"ecocalc/internal/protocol"
	"ecocalc/internal/session"
	"ecocalc/internal/state"
	"ecocalc/internal/tuning"
)

type Server struct {
	cat      *catalogs.Catalog
	params   engine.Params
	limits   tuning.RateLimits
	language string
	rec      session.Recorder
	log      *log.Logger

	active   atomic.Int64
	upgrader websocket.Upgrader
}

func NewServer(cat *catalogs.Catalog, t tuning.Tuning, rec session.Recorder, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags)
	}
	return &Server{
		cat:      cat,
		params:   engine.Params{LavishFactor: t.LavishFactor},
		limits:   t.RateLimits,
		language: t.Language,
		rec:      rec,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Active is the number of connected sessions.
func (s *Server) Active() int64 { return s.active.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.active.Add(1)
		defer s.active.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)
		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						// Unblocks the reader.
						_ = conn.Close()
						return
					}
				}
			}
		}()
		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				s.log.Printf("session %s: encode %T: %v", sess.ID(), v, err)
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}

		limiter := rate.NewLimiter(rate.Limit(s.limits.EditsPerSecond), s.limits.EditBurst)

		// Reader loop. Edits are applied here, one at a time.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				send(protocol.NewError("", protocol.ErrProtoBadRequest, "malformed message"))
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				send(protocol.NewError(base.Ref, protocol.ErrProtoBadRequest, "bad protocol_version"))
				continue
			}
			switch base.Type {
			case protocol.TypeEdit:
				if !limiter.Allow() {
					send(protocol.NewError(base.Ref, protocol.ErrRateLimit, "too many edits"))
					continue
				}
				for _, reply := range s.handleEdit(sess, msg, base.Ref) {
					send(reply)
				}
			case protocol.TypeExport:
				send(protocol.SelectionMsg{
					Type:            protocol.TypeSelection,
					ProtocolVersion: protocol.Version,
					Ref:             base.Ref,
					Document:        sess.Export(),
				})
			default:
				send(protocol.NewError(base.Ref, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type))
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session.Session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	lang := strings.TrimSpace(hello.Language)
	if lang == "" {
		lang = s.language
	}
	sess := session.New(uuid.NewString(), s.cat, s.params,
		session.WithLanguage(lang),
		session.WithRecorder(s.rec),
	)
	s.log.Printf("session %s: hello from %q", sess.ID(), hello.ClientName)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.ID(),
		Language:        sess.View().Language,
		Catalog: protocol.CatalogInfo{
			Version:   s.cat.Version,
			Digest:    s.cat.Digest,
			Languages: s.cat.Languages(),
			Recipes:   len(s.cat.RecipeIDs()),
		},
		Limits: protocol.Limits{
			EditsPerSecond: s.limits.EditsPerSecond,
			EditBurst:      s.limits.EditBurst,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}

	replies := []any{stateMsg("", sess.View())}
	if len(hello.Selection) > 0 {
		replies = s.apply(sess, session.Edit{Op: session.OpImport, Document: hello.Selection}, "")
	}
	for _, m := range replies {
		if err := writeJSON(conn, m); err != nil {
			return nil
		}
	}
	return sess
}

func (s *Server) handleEdit(sess *session.Session, msg []byte, ref string) []any {
	if err := protocol.Validate(protocol.TypeEdit, msg); err != nil {
		return []any{protocol.NewError(ref, protocol.ErrProtoBadRequest, err.Error())}
	}
	var em protocol.EditMsg
	if err := json.Unmarshal(msg, &em); err != nil {
		return []any{protocol.NewError(ref, protocol.ErrProtoBadRequest, err.Error())}
	}
	return s.apply(sess, session.Edit{
		Op:       session.Op(em.Op),
		Recipe:   em.Recipe,
		Item:     em.Item,
		Skill:    em.Skill,
		Table:    em.Table,
		Value:    em.Value,
		Lavish:   em.Lavish,
		Language: em.Language,
		Document: em.Document,
	}, ref)
}

// apply runs an edit and returns the replies: STATE on success, ERROR on
// failure.
func (s *Server) apply(sess *session.Session, e session.Edit, ref string) []any {
	view, err := sess.Apply(e)
	if err == nil {
		return []any{stateMsg(ref, view)}
	}
	code := ErrorCode(err)
	if code == protocol.ErrInternal {
		s.log.Printf("session %s: %s: %v", sess.ID(), e.Op, err)
	}
	em := protocol.NewError(ref, code, err.Error())
	var ce *engine.CycleError
	if errors.As(err, &ce) {
		for _, item := range ce.Path {
			em.Cycle = append(em.Cycle, string(item))
		}
	}
	if code == protocol.ErrMissingCatalogEntry && e.Recipe != "" {
		for _, id := range s.cat.Suggest(e.Recipe, 3) {
			em.Suggestions = append(em.Suggestions, string(id))
		}
	}
	return []any{em}
}

// ErrorCode maps an edit error to its protocol code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrCyclicDependency):
		return protocol.ErrCycle
	case errors.Is(err, catalogs.ErrMissingCatalogEntry):
		return protocol.ErrMissingCatalogEntry
	case errors.Is(err, session.ErrBadEdit), errors.Is(err, state.ErrUnknownSkill), errors.Is(err, state.ErrNotPriced):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}

func stateMsg(ref string, v session.View) protocol.StateMsg {
	return protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		View:            v,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

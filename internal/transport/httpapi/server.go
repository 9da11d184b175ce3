// Package httpapi serves the catalog, stateless price computation and the
// recorded price history over plain HTTP.
package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/patrickmn/go-cache"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	"ecocalc/internal/persistence/indexdb"
	"ecocalc/internal/protocol"
	"ecocalc/internal/session"
	"ecocalc/internal/transport/ws"
	"ecocalc/internal/tuning"
)

const maxComputeBody = 1 << 20

// History is the read side of the index.
type History interface {
	PriceHistory(ctx context.Context, item, recipe string, limit int) ([]indexdb.PricePoint, error)
	Passes(ctx context.Context, sessionID string) ([]indexdb.PassSummary, error)
}

type Server struct {
	cat      *catalogs.Catalog
	params   engine.Params
	language string
	history  History
	active   func() int64
	log      *log.Logger

	computed *cache.Cache
}

type Option func(*Server)

// WithHistory enables /v1/history and /v1/passes.
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// WithActiveSessions reports a live session count on /healthz.
func WithActiveSessions(f func() int64) Option { return func(s *Server) { s.active = f } }

func NewServer(cat *catalogs.Catalog, t tuning.Tuning, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ttl := time.Duration(t.ComputeCacheTTLSeconds) * time.Second
	s := &Server{
		cat:      cat,
		params:   engine.Params{LavishFactor: t.LavishFactor},
		language: t.Language,
		log:      logger,
		computed: cache.New(ttl, 2*ttl),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/catalog", s.handleCatalog)
	mux.HandleFunc("/v1/compute", s.handleCompute)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/passes", s.handlePasses)
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"ok":              true,
		"catalog_version": s.cat.Version,
		"catalog_digest":  s.cat.Digest,
	}
	if s.active != nil {
		out["active_sessions"] = s.active()
	}
	writeJSON(rw, r, http.StatusOK, out)
}

type catalogResponse struct {
	Version   string          `json:"version"`
	Digest    string          `json:"digest"`
	Language  string          `json:"language"`
	Languages []string        `json:"languages"`
	Skills    []namedID       `json:"skills"`
	Recipes   []catalogRecipe `json:"recipes"`
}

type namedID struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type catalogRecipe struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Family      string   `json:"family"`
	Primary     string   `json:"primary"`
	Products    []string `json:"products"`
	Ingredients []string `json:"ingredients"`
	Skills      []string `json:"skills"`
	Tables      []string `json:"tables"`
}

func (s *Server) handleCatalog(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(rw, r, http.StatusMethodNotAllowed, protocol.ErrProtoBadRequest, "method not allowed")
		return
	}
	lang := s.lang(r.URL.Query().Get("lang"))
	resp := catalogResponse{
		Version:   s.cat.Version,
		Digest:    s.cat.Digest,
		Language:  lang,
		Languages: s.cat.Languages(),
		Skills:    []namedID{},
		Recipes:   []catalogRecipe{},
	}
	for _, id := range s.cat.Skills() {
		resp.Skills = append(resp.Skills, namedID{ID: string(id), Name: s.cat.Name(lang, string(id))})
	}
	for _, id := range s.cat.RecipeIDs() {
		rec, _ := s.cat.Recipe(id)
		cr := catalogRecipe{
			ID:      string(id),
			Name:    s.cat.Name(lang, string(id)),
			Family:  string(rec.Family),
			Primary: string(rec.Primary),
		}
		for _, p := range rec.Products {
			cr.Products = append(cr.Products, string(p.Item))
		}
		for _, in := range rec.Ingredients {
			cr.Ingredients = append(cr.Ingredients, string(in.Item))
		}
		for _, sk := range rec.Skills {
			cr.Skills = append(cr.Skills, string(sk.Skill))
		}
		for _, t := range rec.Tables {
			cr.Tables = append(cr.Tables, string(t))
		}
		resp.Recipes = append(resp.Recipes, cr)
	}
	writeJSON(rw, r, http.StatusOK, resp)
}

type computeRequest struct {
	Language  string          `json:"language,omitempty"`
	Selection json.RawMessage `json:"selection"`
}

// handleCompute prices a selection document without keeping a session.
func (s *Server) handleCompute(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(rw, r, http.StatusMethodNotAllowed, protocol.ErrProtoBadRequest, "method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxComputeBody+1))
	if err != nil {
		writeError(rw, r, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if len(body) > maxComputeBody {
		writeError(rw, r, http.StatusRequestEntityTooLarge, protocol.ErrProtoBadRequest, "body too large")
		return
	}
	var req computeRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Selection) == 0 {
		writeError(rw, r, http.StatusBadRequest, protocol.ErrProtoBadRequest, "expected {\"selection\":{...}}")
		return
	}

	key := computeKey(s.cat.Digest, body)
	if v, ok := s.computed.Get(key); ok {
		rw.Header().Set("X-Cache", "hit")
		writeJSON(rw, r, http.StatusOK, v)
		return
	}

	sess := session.New("compute", s.cat, s.params, session.WithLanguage(s.lang(req.Language)))
	view, err := sess.Apply(session.Edit{Op: session.OpImport, Document: req.Selection})
	if err != nil {
		code := ws.ErrorCode(err)
		status := http.StatusUnprocessableEntity
		switch code {
		case protocol.ErrBadRequest:
			status = http.StatusBadRequest
		case protocol.ErrInternal:
			status = http.StatusInternalServerError
			s.log.Printf("compute: %v", err)
		}
		writeError(rw, r, status, code, err.Error())
		return
	}
	s.computed.Set(key, view, cache.DefaultExpiration)
	rw.Header().Set("X-Cache", "miss")
	writeJSON(rw, r, http.StatusOK, view)
}

func computeKey(digest string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(digest))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(rw, r, http.StatusServiceUnavailable, protocol.ErrInternal, "index disabled")
		return
	}
	q := r.URL.Query()
	item := strings.TrimSpace(q.Get("item"))
	if item == "" {
		writeError(rw, r, http.StatusBadRequest, protocol.ErrBadRequest, "missing item")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	rows, err := s.history.PriceHistory(r.Context(), item, strings.TrimSpace(q.Get("recipe")), limit)
	if err != nil {
		s.log.Printf("history %s: %v", item, err)
		writeError(rw, r, http.StatusInternalServerError, protocol.ErrInternal, "query failed")
		return
	}
	type point struct {
		indexdb.PricePoint
		Price *float64 `json:"price"`
	}
	out := make([]point, 0, len(rows))
	for _, p := range rows {
		out = append(out, point{PricePoint: p, Price: p.Value()})
	}
	writeJSON(rw, r, http.StatusOK, map[string]any{"item": item, "points": out})
}

func (s *Server) handlePasses(rw http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(rw, r, http.StatusServiceUnavailable, protocol.ErrInternal, "index disabled")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("session"))
	if id == "" {
		writeError(rw, r, http.StatusBadRequest, protocol.ErrBadRequest, "missing session")
		return
	}
	rows, err := s.history.Passes(r.Context(), id)
	if err != nil {
		s.log.Printf("passes %s: %v", id, err)
		writeError(rw, r, http.StatusInternalServerError, protocol.ErrInternal, "query failed")
		return
	}
	if rows == nil {
		rows = []indexdb.PassSummary{}
	}
	writeJSON(rw, r, http.StatusOK, map[string]any{"session": id, "passes": rows})
}

func (s *Server) lang(requested string) string {
	requested = strings.TrimSpace(requested)
	if s.cat.HasLanguage(requested) {
		return requested
	}
	if s.cat.HasLanguage(s.language) {
		return s.language
	}
	if langs := s.cat.Languages(); len(langs) > 0 {
		return langs[0]
	}
	return ""
}

func writeError(rw http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(rw, r, status, map[string]string{"code": code, "message": msg})
}

// writeJSON compresses with brotli when the client accepts it.
func writeJSON(rw http.ResponseWriter, r *http.Request, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Add("Vary", "Accept-Encoding")
	if !acceptsBrotli(r) {
		rw.WriteHeader(status)
		_ = json.NewEncoder(rw).Encode(v)
		return
	}
	rw.Header().Set("Content-Encoding", "br")
	rw.WriteHeader(status)
	bw := brotli.NewWriterLevel(rw, brotli.DefaultCompression)
	_ = json.NewEncoder(bw).Encode(v)
	_ = bw.Close()
}

func acceptsBrotli(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "br") {
			return true
		}
	}
	return false
}

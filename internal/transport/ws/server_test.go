package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	"ecocalc/internal/protocol"
	"ecocalc/internal/session"
	"ecocalc/internal/state"
	"ecocalc/internal/tuning"
)

type reply struct {
	Type        string          `json:"type"`
	Ref         string          `json:"ref"`
	Code        string          `json:"code"`
	SessionID   string          `json:"session_id"`
	Suggestions []string        `json:"suggestions"`
	View        json.RawMessage `json:"view"`
}

func startServer(t *testing.T, limits tuning.RateLimits) *websocket.Conn {
	t.Helper()
	cat, err := catalogs.Load("../../../configs/catalog.json")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	tu := tuning.Defaults()
	tu.Language = "English"
	tu.RateLimits = limits
	srv := NewServer(cat, tu, nil, log.New(io.Discard, "", 0))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) reply {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var r reply
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return r
}

func hello(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	send(t, conn, `{"type":"HELLO","protocol_version":"`+protocol.Version+`","client_name":"test"}`)
	w := recv(t, conn)
	if w.Type != protocol.TypeWelcome || w.SessionID == "" {
		t.Fatalf("expected WELCOME, got %+v", w)
	}
	if st := recv(t, conn); st.Type != protocol.TypeState {
		t.Fatalf("expected initial STATE, got %+v", st)
	}
	return w.SessionID
}

func edit(ref, fields string) string {
	return fmt.Sprintf(`{"type":"EDIT","protocol_version":"%s","ref":"%s",%s}`, protocol.Version, ref, fields)
}

func TestServer_EditRoundTrip(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{EditsPerSecond: 100, EditBurst: 100})
	hello(t, conn)

	send(t, conn, edit("1", `"op":"ADD_RECIPE","recipe":"IronBarRecipe"`))
	send(t, conn, edit("2", `"op":"SET_TABLE","table":"BloomeryItem","value":"1"`))
	send(t, conn, edit("3", `"op":"SET_PRICE","item":"IronOreItem","value":"2"`))
	var last reply
	for i := 0; i < 3; i++ {
		last = recv(t, conn)
		if last.Type != protocol.TypeState {
			t.Fatalf("edit %d: %+v", i+1, last)
		}
	}
	if last.Ref != "3" {
		t.Fatalf("ref=%q", last.Ref)
	}
	var v struct {
		Results []struct {
			Item  string   `json:"item"`
			Price *float64 `json:"price"`
		} `json:"results"`
	}
	if err := json.Unmarshal(last.View, &v); err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(v.Results) != 1 || v.Results[0].Price == nil || *v.Results[0].Price != 8 {
		t.Fatalf("results: %s", last.View)
	}

	send(t, conn, `{"type":"EXPORT","protocol_version":"`+protocol.Version+`","ref":"4"}`)
	if r := recv(t, conn); r.Type != protocol.TypeSelection || r.Ref != "4" {
		t.Fatalf("expected SELECTION, got %+v", r)
	}
}

func TestServer_ErrorsKeepConnection(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{EditsPerSecond: 100, EditBurst: 100})
	hello(t, conn)

	send(t, conn, edit("1", `"op":"ADD_RECIPE","recipe":"IronGearRecipee"`))
	r := recv(t, conn)
	if r.Type != protocol.TypeError || r.Code != protocol.ErrMissingCatalogEntry {
		t.Fatalf("expected missing entry error, got %+v", r)
	}
	if len(r.Suggestions) == 0 || r.Suggestions[0] != "IronGearRecipe" {
		t.Fatalf("suggestions: %v", r.Suggestions)
	}

	send(t, conn, edit("2", `"op":"EXPLODE"`))
	if r := recv(t, conn); r.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("expected schema rejection, got %+v", r)
	}

	send(t, conn, `{"type":"DANCE","protocol_version":"`+protocol.Version+`"}`)
	if r := recv(t, conn); r.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("expected unknown type rejection, got %+v", r)
	}

	send(t, conn, edit("3", `"op":"ADD_RECIPE","recipe":"IronBarRecipe"`))
	if r := recv(t, conn); r.Type != protocol.TypeState {
		t.Fatalf("connection should survive errors, got %+v", r)
	}
}

func TestServer_RateLimit(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{EditsPerSecond: 0.001, EditBurst: 1})
	hello(t, conn)

	send(t, conn, edit("1", `"op":"ADD_SKILL","skill":"SmeltingSkill"`))
	send(t, conn, edit("2", `"op":"ADD_SKILL","skill":"CarpentrySkill"`))
	if r := recv(t, conn); r.Type != protocol.TypeState {
		t.Fatalf("first edit: %+v", r)
	}
	if r := recv(t, conn); r.Code != protocol.ErrRateLimit || r.Ref != "2" {
		t.Fatalf("expected rate limit, got %+v", r)
	}
}

func TestServer_RejectsMissingHello(t *testing.T) {
	conn := startServer(t, tuning.RateLimits{EditsPerSecond: 1, EditBurst: 1})
	send(t, conn, edit("1", `"op":"ADD_SKILL","skill":"SmeltingSkill"`))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		protocol.ErrCycle:               &engine.CycleError{Item: "A", Path: []catalogs.ItemID{"A", "B", "A"}},
		protocol.ErrMissingCatalogEntry: fmt.Errorf("recipe X: %w", catalogs.ErrMissingCatalogEntry),
		protocol.ErrBadRequest:          fmt.Errorf("%w: missing item", session.ErrBadEdit),
		protocol.ErrInternal:            errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v)=%s want %s", err, got, want)
		}
	}
	if got := ErrorCode(fmt.Errorf("x: %w", state.ErrUnknownSkill)); got != protocol.ErrBadRequest {
		t.Fatalf("unknown skill mapped to %s", got)
	}
	if got := ErrorCode(fmt.Errorf("IronBarItem: %w", state.ErrNotPriced)); got != protocol.ErrBadRequest {
		t.Fatalf("unlisted price mapped to %s", got)
	}
}

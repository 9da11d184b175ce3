package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/persistence/indexdb"
	"ecocalc/internal/protocol"
	"ecocalc/internal/tuning"
)

type fakeHistory struct{ item, recipe string }

func (f *fakeHistory) PriceHistory(ctx context.Context, item, recipe string, limit int) ([]indexdb.PricePoint, error) {
	f.item, f.recipe = item, recipe
	return []indexdb.PricePoint{
		{SessionID: "a", Seq: 2, Price: sql.NullFloat64{Float64: 8, Valid: true}, Active: true},
		{SessionID: "a", Seq: 1},
	}, nil
}

func (f *fakeHistory) Passes(ctx context.Context, sessionID string) ([]indexdb.PassSummary, error) {
	return nil, nil
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	cat, err := catalogs.Load("../../../configs/catalog.json")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	tu := tuning.Defaults()
	tu.Language = "English"
	mux := http.NewServeMux()
	NewServer(cat, tu, nil, opts...).Register(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return hs
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	var r io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "br" {
		r = brotli.NewReader(resp.Body)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func TestCatalog_PlainAndBrotli(t *testing.T) {
	hs := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, hs.URL+"/v1/catalog?lang=Deutsch", nil)
	resp, plain := do(t, req)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Encoding") != "" {
		t.Fatalf("status=%d encoding=%q", resp.StatusCode, resp.Header.Get("Content-Encoding"))
	}
	var cat catalogResponse
	if err := json.Unmarshal(plain, &cat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cat.Language != "Deutsch" || len(cat.Recipes) != 5 || cat.Digest == "" {
		t.Fatalf("catalog: %+v", cat)
	}

	req, _ = http.NewRequest(http.MethodGet, hs.URL+"/v1/catalog?lang=Deutsch", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	resp, compressed := do(t, req)
	if resp.Header.Get("Content-Encoding") != "br" {
		t.Fatalf("expected brotli response")
	}
	if !bytes.Equal(plain, compressed) {
		t.Fatalf("brotli body differs from plain body")
	}
}

func TestCompute_PricesAndCaches(t *testing.T) {
	hs := newTestServer(t)
	body := `{"language":"English","selection":{
	  "skills":{"SmeltingSkill":{"value":1,"lavish":false}},
	  "ingredients":{"IronOreItem":2},
	  "recipes":["IronBarRecipe"],
	  "tables":{"BloomeryItem":"1"}
	}}`

	for i, want := range []string{"miss", "hit"} {
		req, _ := http.NewRequest(http.MethodPost, hs.URL+"/v1/compute", bytes.NewBufferString(body))
		resp, b := do(t, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status=%d body=%s", i, resp.StatusCode, b)
		}
		if got := resp.Header.Get("X-Cache"); got != want {
			t.Fatalf("request %d: X-Cache=%q want %q", i, got, want)
		}
		var v struct {
			Results []struct {
				Item  string  `json:"item"`
				Price float64 `json:"price"`
			} `json:"results"`
		}
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(v.Results) != 1 || v.Results[0].Item != "IronBarItem" || v.Results[0].Price != 8 {
			t.Fatalf("results: %s", b)
		}
	}
}

func TestCompute_RejectsBadInput(t *testing.T) {
	hs := newTestServer(t)
	cases := map[string]int{
		`not json`:                         http.StatusBadRequest,
		`{"language":"English"}`:           http.StatusBadRequest,
		`{"selection":{"recipes":"nope"}}`: http.StatusBadRequest,
	}
	for body, status := range cases {
		req, _ := http.NewRequest(http.MethodPost, hs.URL+"/v1/compute", bytes.NewBufferString(body))
		resp, b := do(t, req)
		if resp.StatusCode != status {
			t.Fatalf("%s: status=%d want %d (%s)", body, resp.StatusCode, status, b)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, hs.URL+"/v1/compute", nil)
	if resp, _ := do(t, req); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET compute status=%d", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	hs := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, hs.URL+"/v1/history?item=IronBarItem", nil)
	if resp, _ := do(t, req); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("history without index: status=%d", resp.StatusCode)
	}

	h := &fakeHistory{}
	hs = newTestServer(t, WithHistory(h))
	req, _ = http.NewRequest(http.MethodGet, hs.URL+"/v1/history?item=IronBarItem&recipe=IronBarRecipe", nil)
	resp, b := do(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, b)
	}
	if h.item != "IronBarItem" || h.recipe != "IronBarRecipe" {
		t.Fatalf("query args: %+v", h)
	}
	var out struct {
		Points []struct {
			Seq   int64    `json:"seq"`
			Price *float64 `json:"price"`
		} `json:"points"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Points) != 2 || out.Points[0].Price == nil || *out.Points[0].Price != 8 || out.Points[1].Price != nil {
		t.Fatalf("points: %s", b)
	}

	req, _ = http.NewRequest(http.MethodGet, hs.URL+"/v1/history", nil)
	resp, b = do(t, req)
	var e struct{ Code string }
	_ = json.Unmarshal(b, &e)
	if resp.StatusCode != http.StatusBadRequest || e.Code != protocol.ErrBadRequest {
		t.Fatalf("missing item: status=%d body=%s", resp.StatusCode, b)
	}
}

func TestHealthz(t *testing.T) {
	hs := newTestServer(t, WithActiveSessions(func() int64 { return 3 }))
	req, _ := http.NewRequest(http.MethodGet, hs.URL+"/healthz", nil)
	resp, b := do(t, req)
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, b)
	}
	if out["active_sessions"] != float64(3) {
		t.Fatalf("healthz: %v", out)
	}
}

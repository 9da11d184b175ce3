package indexdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	"ecocalc/internal/session"
)

func loadCatalog(t *testing.T) (*catalogs.Catalog, []byte) {
	t.Helper()
	path := "../../../configs/catalog.json"
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	c, err := catalogs.Parse(raw)
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return c, raw
}

func TestSQLiteIndex_RecordsPassesAndPrices(t *testing.T) {
	cat, raw := loadCatalog(t)
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalog(cat, raw); err != nil {
		t.Fatalf("UpsertCatalog: %v", err)
	}

	s := session.New("sess-1", cat, engine.DefaultParams(), session.WithRecorder(idx))
	for _, e := range []session.Edit{
		{Op: session.OpAddRecipe, Recipe: "IronBarRecipe"},
		{Op: session.OpSetTable, Table: "BloomeryItem", Value: "1"},
		{Op: session.OpSetPrice, Item: "IronOreItem", Value: "2"},
		{Op: session.OpSetPrice, Item: "IronOreItem", Value: "3"},
	} {
		if _, err := s.Apply(e); err != nil {
			t.Fatalf("apply %s: %v", e.Op, err)
		}
	}
	if _, err := s.Apply(session.Edit{Op: session.OpAddRecipe, Recipe: "NopeRecipe"}); !errors.Is(err, catalogs.ErrMissingCatalogEntry) {
		t.Fatalf("expected missing entry, got %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.RecordedTotal != 5 || st.DropPassTotal != 0 {
		t.Fatalf("stats: %+v", st)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	digest, err := idx.CatalogDigest(ctx)
	if err != nil || digest != cat.Digest {
		t.Fatalf("catalog digest=%q err=%v", digest, err)
	}

	passes, err := idx.Passes(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Passes: %v", err)
	}
	if len(passes) != 5 {
		t.Fatalf("passes=%d want 5", len(passes))
	}
	if last := passes[4]; last.OK || last.Error == "" || last.Op != string(session.OpAddRecipe) {
		t.Fatalf("failed pass row: %+v", last)
	}

	hist, err := idx.PriceHistory(ctx, "IronBarItem", "", 10)
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	// Pass 1 has no table in use, so its price is unknown.
	if len(hist) != 4 {
		t.Fatalf("history rows=%d want 4", len(hist))
	}
	if v := hist[0].Value(); v == nil || *v != 12 {
		t.Fatalf("latest price=%v want 12", v)
	}
	if hist[3].Value() != nil {
		t.Fatalf("first pass price should be null, got %v", *hist[3].Value())
	}

	byRecipe, err := idx.PriceHistory(ctx, "IronBarItem", "IronBarRecipe", 1)
	if err != nil || len(byRecipe) != 1 || !byRecipe[0].Active {
		t.Fatalf("recipe history=%+v err=%v", byRecipe, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan passRow, 1)}
	s.ch <- passRow{SessionID: "a", Seq: 1}

	s.RecordPass(session.Pass{SessionID: "a", Seq: 2, At: time.Now()})

	st := s.Stats()
	if st.DropPassTotal != 1 {
		t.Fatalf("DropPassTotal=%d want=1", st.DropPassTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/session"
)

// SQLiteIndex is a queryable read-model of recompute passes. The zstd edit
// log stays the source of truth; rows are dropped when the writer falls
// behind.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan passRow
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against its close.
	mu       sync.RWMutex
	closed   bool
	dropped  atomic.Uint64
	recorded atomic.Uint64
}

type passRow struct {
	SessionID string
	Seq       uint64
	At        string
	Op        string
	EditJSON  string
	OK        bool
	Error     string
	Prices    []priceRow
}

// priceRow with an empty Recipe is the effective price of Item.
type priceRow struct {
	Item   string
	Recipe string
	Price  sql.NullFloat64
	Active bool
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	RecordedTotal uint64
	DropPassTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan passRow, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			digest TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			recipes INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS passes (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at TEXT NOT NULL,
			op TEXT NOT NULL,
			edit_json TEXT NOT NULL,
			ok INTEGER NOT NULL,
			error TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS prices (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			item TEXT NOT NULL,
			recipe TEXT NOT NULL,
			price REAL,
			active INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq, item, recipe)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_prices_item ON prices(item, recipe);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		RecordedTotal: s.recorded.Load(),
		DropPassTotal: s.dropped.Load(),
	}
}

// RecordPass queues a pass for indexing. Prices are stored only for passes
// that committed a new state.
func (s *SQLiteIndex) RecordPass(p session.Pass) {
	if s == nil {
		return
	}
	editJSON, _ := json.Marshal(p.Edit)
	r := passRow{
		SessionID: p.SessionID,
		Seq:       p.Seq,
		At:        p.At.UTC().Format(time.RFC3339Nano),
		Op:        string(p.Edit.Op),
		EditJSON:  string(editJSON),
		OK:        p.Err == nil,
	}
	if p.Err != nil {
		r.Error = p.Err.Error()
	} else {
		for _, item := range p.State.Products() {
			r.Prices = append(r.Prices, priceRow{Item: string(item), Price: nullFloat(p.State.EffectivePrice(item)), Active: true})
			for _, id := range p.State.RecipesFor(item) {
				e, _ := p.State.Entry(item, id)
				r.Prices = append(r.Prices, priceRow{Item: string(item), Recipe: string(id), Price: nullFloat(e.Price), Active: e.Active})
			}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func nullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// UpsertCatalog stores the catalog export the server is running with.
func (s *SQLiteIndex) UpsertCatalog(cat *catalogs.Catalog, raw []byte) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTxx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('catalog_digest',?)`, cat.Digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(digest,version,recipes,json,updated_at) VALUES(?,?,?,?,?)`,
		cat.Digest, cat.Version, len(cat.RecipeIDs()), string(raw), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertPass, _ := s.db.Prepare(`INSERT OR REPLACE INTO passes(session_id,seq,at,op,edit_json,ok,error) VALUES(?,?,?,?,?,?,?)`)
	insertPrice, _ := s.db.Prepare(`INSERT OR REPLACE INTO prices(session_id,seq,item,recipe,price,active) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertPass != nil {
			_ = insertPass.Close()
		}
		if insertPrice != nil {
			_ = insertPrice.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil || insertPass == nil || insertPrice == nil {
			continue
		}
		if _, err := tx.Stmt(insertPass).Exec(r.SessionID, int64(r.Seq), r.At, r.Op, r.EditJSON, r.OK, r.Error); err != nil {
			rollback()
			continue
		}
		opCount++
		ok := true
		for _, p := range r.Prices {
			if _, err := tx.Stmt(insertPrice).Exec(r.SessionID, int64(r.Seq), p.Item, p.Recipe, p.Price, p.Active); err != nil {
				rollback()
				ok = false
				break
			}
			opCount++
		}
		if !ok {
			continue
		}
		s.recorded.Add(1)
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}

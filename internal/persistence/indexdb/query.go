package indexdb

import (
	"context"
	"database/sql"
)

type PricePoint struct {
	SessionID string          `db:"session_id" json:"session_id"`
	Seq       int64           `db:"seq" json:"seq"`
	At        string          `db:"at" json:"at"`
	Recipe    string          `db:"recipe" json:"recipe,omitempty"`
	Price     sql.NullFloat64 `db:"price" json:"-"`
	Active    bool            `db:"active" json:"active"`
}

// Value is the price, or nil when it could not be computed.
func (p PricePoint) Value() *float64 {
	if !p.Price.Valid {
		return nil
	}
	v := p.Price.Float64
	return &v
}

type PassSummary struct {
	SessionID string `db:"session_id" json:"session_id"`
	Seq       int64  `db:"seq" json:"seq"`
	At        string `db:"at" json:"at"`
	Op        string `db:"op" json:"op"`
	OK        bool   `db:"ok" json:"ok"`
	Error     string `db:"error" json:"error,omitempty"`
}

// PriceHistory returns the most recent effective prices of an item, newest
// first. With recipe set, it returns that recipe's unit costs instead.
func (s *SQLiteIndex) PriceHistory(ctx context.Context, item, recipe string, limit int) ([]PricePoint, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []PricePoint
	err := s.db.SelectContext(ctx, &out, `
		SELECT p.session_id, p.seq, ps.at, p.recipe, p.price, p.active
		FROM prices p
		JOIN passes ps ON ps.session_id = p.session_id AND ps.seq = p.seq
		WHERE p.item = ? AND p.recipe = ?
		ORDER BY ps.at DESC, p.seq DESC
		LIMIT ?`, item, recipe, limit)
	return out, err
}

func (s *SQLiteIndex) Passes(ctx context.Context, sessionID string) ([]PassSummary, error) {
	var out []PassSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT session_id, seq, at, op, ok, error
		FROM passes
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	return out, err
}

// CatalogDigest is the digest of the last catalog stored, or "".
func (s *SQLiteIndex) CatalogDigest(ctx context.Context) (string, error) {
	var d string
	err := s.db.GetContext(ctx, &d, `SELECT value FROM meta WHERE key = 'catalog_digest'`)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}

package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"ecocalc/internal/session"
)

var ErrClosed = errors.New("log writer closed")

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// Close flushes the current file. Later writes fail with ErrClosed.
func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	// Ends the zstd block so readers see complete lines before rotation.
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EditEntry is one line of the edit log.
type EditEntry struct {
	Session string                   `json:"session"`
	Seq     uint64                   `json:"seq"`
	At      time.Time                `json:"at"`
	Edit    session.Edit             `json:"edit"`
	OK      bool                     `json:"ok"`
	Error   string                   `json:"error,omitempty"`
	Prices  map[string]session.Price `json:"prices,omitempty"`
}

// EditLogger writes every recompute pass to <dataDir>/edits.
type EditLogger struct {
	w *JSONLZstdWriter

	mu      sync.Mutex
	lastErr error
}

func NewEditLogger(dataDir string) *EditLogger {
	return &EditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "edits"), "edits")}
}

func (l *EditLogger) RecordPass(p session.Pass) {
	e := EditEntry{
		Session: p.SessionID,
		Seq:     p.Seq,
		At:      p.At,
		Edit:    p.Edit,
		OK:      p.Err == nil,
	}
	if p.Err != nil {
		e.Error = p.Err.Error()
	} else if items := p.State.Products(); len(items) > 0 {
		e.Prices = make(map[string]session.Price, len(items))
		for _, item := range items {
			e.Prices[string(item)] = session.Price(p.State.EffectivePrice(item))
		}
	}
	if err := l.w.Write(e); err != nil {
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
	}
}

// Err returns the last write error, if any.
func (l *EditLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *EditLogger) Close() error { return l.w.Close() }

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	persistlog "ecocalc/internal/persistence/log"
	"ecocalc/internal/session"
)

func main() {
	var (
		editsDir     = flag.String("edits", "./data/edits", "dir containing edits-*.jsonl.zst")
		catalogPath  = flag.String("catalog", "./configs/catalog.json", "catalog export the edits were made against")
		sessionID    = flag.String("session", "", "replay only this session (optional)")
		lavishFactor = flag.Float64("lavish_factor", engine.DefaultParams().LavishFactor, "lavish factor the server ran with")
	)
	flag.Parse()

	cat, err := catalogs.Load(*catalogPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalog:", err)
		os.Exit(1)
	}

	files, err := listEditFiles(*editsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list edits:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no edit files found in", *editsDir)
		os.Exit(1)
	}

	r := &replayer{
		cat:      cat,
		params:   engine.Params{LavishFactor: *lavishFactor},
		only:     strings.TrimSpace(*sessionID),
		sessions: map[string]*session.Session{},
	}
	for _, path := range files {
		if err := r.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: sessions=%d passes=%d\n", len(r.sessions), r.checked)
}

func listEditFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "edits-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type replayer struct {
	cat    *catalogs.Catalog
	params engine.Params
	only   string

	sessions map[string]*session.Session
	checked  uint64
}

func (r *replayer) replayFile(path string) error {
	return eachEntry(path, func(entry persistlog.EditEntry) error {
		if r.only != "" && entry.Session != r.only {
			return nil
		}
		return r.check(entry)
	})
}

// eachEntry decodes one edits-*.jsonl.zst file line by line.
func eachEntry(path string, fn func(persistlog.EditEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var entry persistlog.EditEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(entry); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

func (r *replayer) check(entry persistlog.EditEntry) error {
	s, ok := r.sessions[entry.Session]
	if !ok {
		s = session.New(entry.Session, r.cat, r.params)
		r.sessions[entry.Session] = s
	}
	view, err := s.Apply(entry.Edit)
	if view.Seq != entry.Seq {
		return fmt.Errorf("session %s: seq mismatch: replayed=%d logged=%d", entry.Session, view.Seq, entry.Seq)
	}
	if (err == nil) != entry.OK {
		return fmt.Errorf("session %s seq %d: outcome mismatch: replayed err=%v logged ok=%v", entry.Session, entry.Seq, err, entry.OK)
	}
	r.checked++
	if err != nil {
		return nil
	}
	st := s.State()
	products := st.Products()
	if len(products) != len(entry.Prices) {
		return fmt.Errorf("session %s seq %d: product mismatch: replayed=%v logged=%d", entry.Session, entry.Seq, products, len(entry.Prices))
	}
	for _, item := range products {
		if _, ok := entry.Prices[string(item)]; !ok {
			return fmt.Errorf("session %s seq %d: product %s was not logged", entry.Session, entry.Seq, item)
		}
	}
	for item, want := range entry.Prices {
		got := st.EffectivePrice(catalogs.ItemID(item))
		if !samePrice(got, float64(want)) {
			return fmt.Errorf("session %s seq %d: price mismatch for %s: replayed=%v logged=%v", entry.Session, entry.Seq, item, got, float64(want))
		}
	}
	return nil
}

func samePrice(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

// Package session owns one calculator state and applies user edits to it,
// one full recompute pass per edit.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	"ecocalc/internal/selection"
	"ecocalc/internal/state"
)

type Op string

const (
	OpAddRecipe     Op = "ADD_RECIPE"
	OpRemoveRecipe  Op = "REMOVE_RECIPE"
	OpRemoveProduct Op = "REMOVE_PRODUCT"
	OpAddSkill      Op = "ADD_SKILL"
	OpRemoveSkill   Op = "REMOVE_SKILL"
	OpSetSkill      Op = "SET_SKILL"
	OpSetLavish     Op = "SET_LAVISH"
	OpSetTable      Op = "SET_TABLE"
	OpSetPrice      Op = "SET_PRICE"
	OpSetLanguage   Op = "SET_LANGUAGE"
	OpImport        Op = "IMPORT"
)

var ErrBadEdit = errors.New("bad edit")

type Edit struct {
	Op       Op              `json:"op"`
	Recipe   string          `json:"recipe,omitempty"`
	Item     string          `json:"item,omitempty"`
	Skill    string          `json:"skill,omitempty"`
	Table    string          `json:"table,omitempty"`
	Value    string          `json:"value,omitempty"`
	Lavish   bool            `json:"lavish,omitempty"`
	Language string          `json:"language,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
}

// Pass is one applied edit and the state it produced (or the previous
// state when the edit failed).
type Pass struct {
	SessionID string
	Seq       uint64
	At        time.Time
	Edit      Edit
	Err       error
	State     state.State
}

type Recorder interface {
	RecordPass(p Pass)
}

type Recorders []Recorder

func (rs Recorders) RecordPass(p Pass) {
	for _, r := range rs {
		if r != nil {
			r.RecordPass(p)
		}
	}
}

type Option func(*Session)

func WithRecorder(r Recorder) Option { return func(s *Session) { s.rec = r } }

func WithLanguage(lang string) Option { return func(s *Session) { s.lang = lang } }

type Session struct {
	id     string
	cat    *catalogs.Catalog
	params engine.Params
	rec    Recorder

	mu       sync.Mutex
	lang     string
	st       state.State
	seq      uint64
	warnings []selection.Warning
}

func New(id string, cat *catalogs.Catalog, params engine.Params, opts ...Option) *Session {
	s := &Session{
		id:     id,
		cat:    cat,
		params: params,
		st:     state.New(),
	}
	for _, o := range opts {
		o(s)
	}
	if !cat.HasLanguage(s.lang) {
		s.lang = ""
		if langs := cat.Languages(); len(langs) > 0 {
			s.lang = langs[0]
		}
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return buildView(s.cat, s.id, s.seq, s.lang, s.st, s.warnings)
}

// Apply runs one edit to completion. When the edit or its recompute pass
// fails, the previous state stays current and the error is returned with
// the view of that state.
func (s *Session) Apply(e Edit) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	next, warns, err := s.mutate(e)
	if err == nil {
		next, err = engine.Recompute(s.cat, next, s.params)
	}
	if err == nil {
		s.st = next
		// Import warnings stay until the next import.
		if e.Op == OpImport {
			s.warnings = warns
		}
	}
	if s.rec != nil {
		s.rec.RecordPass(Pass{
			SessionID: s.id,
			Seq:       s.seq,
			At:        time.Now().UTC(),
			Edit:      e,
			Err:       err,
			State:     s.st,
		})
	}
	return buildView(s.cat, s.id, s.seq, s.lang, s.st, s.warnings), err
}

func (s *Session) mutate(e Edit) (state.State, []selection.Warning, error) {
	st := s.st
	switch e.Op {
	case OpAddRecipe:
		next, err := st.AddRecipe(s.cat, catalogs.RecipeID(e.Recipe))
		return next, nil, err
	case OpRemoveRecipe:
		next, err := st.RemoveRecipe(s.cat, catalogs.RecipeID(e.Recipe))
		return next, nil, err
	case OpRemoveProduct:
		return st.RemoveProduct(s.cat, catalogs.ItemID(e.Item)), nil, nil
	case OpAddSkill:
		if e.Skill == "" {
			return st, nil, fmt.Errorf("%w: missing skill", ErrBadEdit)
		}
		return st.AddSkill(s.cat, catalogs.SkillID(e.Skill)), nil, nil
	case OpRemoveSkill:
		if e.Skill == "" {
			return st, nil, fmt.Errorf("%w: missing skill", ErrBadEdit)
		}
		return st.RemoveSkill(s.cat, catalogs.SkillID(e.Skill)), nil, nil
	case OpSetSkill:
		next, err := st.SetSkillLevel(catalogs.SkillID(e.Skill), e.Value)
		return next, nil, err
	case OpSetLavish:
		next, err := st.SetLavish(catalogs.SkillID(e.Skill), e.Lavish)
		return next, nil, err
	case OpSetTable:
		if e.Table == "" {
			return st, nil, fmt.Errorf("%w: missing table", ErrBadEdit)
		}
		return st.SetTableSetting(catalogs.TableID(e.Table), e.Value), nil, nil
	case OpSetPrice:
		if e.Item == "" {
			return st, nil, fmt.Errorf("%w: missing item", ErrBadEdit)
		}
		next, err := st.SetPrice(catalogs.ItemID(e.Item), e.Value)
		return next, nil, err
	case OpSetLanguage:
		if !s.cat.HasLanguage(e.Language) {
			return st, nil, fmt.Errorf("%w: unknown language %q", ErrBadEdit, e.Language)
		}
		s.lang = e.Language
		return st, nil, nil
	case OpImport:
		doc, err := selection.Parse(e.Document)
		if err != nil {
			return st, nil, fmt.Errorf("%w: %v", ErrBadEdit, err)
		}
		next, warns := selection.Apply(s.cat, doc)
		return next, warns, nil
	default:
		return st, nil, fmt.Errorf("%w: unknown op %q", ErrBadEdit, e.Op)
	}
}

// Export returns the selection document of the current state.
func (s *Session) Export() selection.Document {
	return selection.Export(s.State())
}

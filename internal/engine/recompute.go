package engine

import (
	"ecocalc/internal/catalogs"
	"ecocalc/internal/state"
)

// Recompute runs one full pass: graph, sequence, modifiers, propagation. It
// returns a new State; on a cycle the input State is returned with the error.
func Recompute(cat *catalogs.Catalog, st state.State, p Params) (state.State, error) {
	order, err := Sequence(BuildGraph(cat, st))
	if err != nil {
		return st, err
	}
	sel, prices := Propagate(cat, st, order, p)
	return st.WithResults(sel, prices), nil
}

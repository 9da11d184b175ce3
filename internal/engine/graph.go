package engine

import (
	"sort"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/state"
)

// Graph points every selected product at the ingredients of its selected
// recipes. Ingredients without a producer are leaf nodes.
type Graph struct {
	Nodes []catalogs.ItemID
	Edges map[catalogs.ItemID][]catalogs.ItemID
}

func BuildGraph(cat *catalogs.Catalog, st state.State) Graph {
	g := Graph{Edges: map[catalogs.ItemID][]catalogs.ItemID{}}
	node := func(id catalogs.ItemID) {
		if _, ok := g.Edges[id]; !ok {
			g.Edges[id] = nil
		}
	}
	for _, product := range st.Products() {
		node(product)
		for _, id := range st.RecipesFor(product) {
			r, ok := cat.Recipe(id)
			if !ok {
				continue
			}
			for _, in := range r.Ingredients {
				node(in.Item)
				g.Edges[product] = append(g.Edges[product], in.Item)
			}
		}
	}
	g.Nodes = make([]catalogs.ItemID, 0, len(g.Edges))
	for id := range g.Edges {
		g.Nodes = append(g.Nodes, id)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i] < g.Nodes[j] })
	return g
}

package catalogs

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Suggest returns up to n recipe identifiers close to id, nearest first.
func (c *Catalog) Suggest(id string, n int) []RecipeID {
	if n <= 0 || id == "" {
		return nil
	}
	type scored struct {
		id   RecipeID
		dist int
	}
	needle := strings.ToLower(id)
	var hits []scored
	for _, rid := range c.recipeIDs {
		cand := strings.ToLower(string(rid))
		var dist int
		switch {
		case cand == needle:
			dist = 0
		case strings.HasPrefix(cand, needle) && len(needle) >= 3:
			dist = 1
		default:
			dist = levenshtein.ComputeDistance(needle, cand)
			if dist > distanceLimit(len(cand)) {
				continue
			}
		}
		hits = append(hits, scored{id: rid, dist: dist})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist == hits[j].dist {
			return hits[i].id < hits[j].id
		}
		return hits[i].dist < hits[j].dist
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]RecipeID, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.id)
	}
	return out
}

func distanceLimit(n int) int {
	switch {
	case n <= 6:
		return 1
	case n <= 12:
		return 2
	default:
		return n / 4
	}
}

package state

import (
	"maps"
	"sort"

	"ecocalc/internal/catalogs"
)

// refresh rebuilds what is derived from the selection: the skills in use with
// their tables, and the list of manually priced ingredients.
func (s State) refresh(cat *catalogs.Catalog) State {
	used := map[catalogs.SkillID]map[catalogs.TableID]struct{}{}
	needed := map[catalogs.ItemID]struct{}{}
	for _, recipes := range s.selection {
		for id := range recipes {
			r, ok := cat.Recipe(id)
			if !ok {
				continue
			}
			for _, req := range r.Skills {
				tables, ok := used[req.Skill]
				if !ok {
					tables = map[catalogs.TableID]struct{}{}
					used[req.Skill] = tables
				}
				for _, t := range r.Tables {
					tables[t] = struct{}{}
				}
			}
			for _, in := range r.Ingredients {
				needed[in.Item] = struct{}{}
			}
		}
	}

	skills := make(map[catalogs.SkillID]Skill, len(used))
	for id, tables := range used {
		sk := s.skills[id]
		sk.Tables = make([]catalogs.TableID, 0, len(tables))
		for t := range tables {
			sk.Tables = append(sk.Tables, t)
		}
		sort.Slice(sk.Tables, func(i, j int) bool { return sk.Tables[i] < sk.Tables[j] })
		skills[id] = sk
	}

	prices := make(map[catalogs.ItemID]float64, len(needed))
	for item := range needed {
		if _, produced := s.selection[item]; produced {
			continue
		}
		prices[item] = s.prices[item]
	}

	s.skills = skills
	s.prices = prices
	return s
}

// SkillLevel is the persisted part of a skill.
type SkillLevel struct {
	Level  int
	Lavish bool
}

// Restore describes a saved selection to rebuild a State from.
type Restore struct {
	Recipes []catalogs.RecipeID
	Skills  map[catalogs.SkillID]SkillLevel
	Prices  map[catalogs.ItemID]float64
	Tables  map[catalogs.TableID]TableSetting
}

// Restored rebuilds a State, grouping recipes under their catalog primary
// product. Recipes unknown to the catalog are skipped and returned.
func Restored(cat *catalogs.Catalog, r Restore) (State, []catalogs.RecipeID) {
	s := New()
	var missing []catalogs.RecipeID
	for _, id := range r.Recipes {
		rec, ok := cat.Recipe(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		addToSelection(s.selection, rec)
	}
	for item, p := range r.Prices {
		s.prices[item] = p
	}
	for t, setting := range r.Tables {
		if setting.Used() {
			s.tables[t] = setting
		}
	}
	s = s.refresh(cat)

	skills := maps.Clone(s.skills)
	for id, lvl := range r.Skills {
		sk, ok := skills[id]
		if !ok {
			continue
		}
		sk.Level = NormalizeLevel(lvl.Level)
		sk.Lavish = lvl.Lavish && sk.Level >= LavishLevel
		skills[id] = sk
	}
	s.skills = skills
	return s, missing
}

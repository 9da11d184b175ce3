package engine

import (
	"ecocalc/internal/catalogs"
	"ecocalc/internal/state"
)

type Params struct {
	// LavishFactor scales dynamic ingredient use when a lavish talent applies.
	LavishFactor float64
}

func DefaultParams() Params {
	return Params{LavishFactor: 0.95}
}

type Modifiers struct {
	Lavish          bool
	TableMultiplier float64
	// Active is set when at least one capable table is in use.
	Active bool
}

// Resolve computes the skill and crafting-table modifiers of a recipe.
func Resolve(r catalogs.Recipe, st state.State) Modifiers {
	m := Modifiers{TableMultiplier: 1}
	for _, req := range r.Skills {
		if sk, ok := st.Skill(req.Skill); ok && sk.Lavish {
			m.Lavish = true
			break
		}
	}
	best := 0.0
	for _, t := range r.Tables {
		setting := st.TableSetting(t)
		if !setting.Used() {
			continue
		}
		m.Active = true
		if v := setting.Multiplier(); v > best {
			best = v
		}
	}
	if m.Active {
		m.TableMultiplier = best
	}
	return m
}

// DynamicScale is the factor applied to dynamic-quantity ingredients.
func (m Modifiers) DynamicScale(p Params) float64 {
	lavish := 1.0
	if m.Lavish {
		lavish = p.LavishFactor
	}
	return lavish * m.TableMultiplier
}

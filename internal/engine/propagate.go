package engine

import (
	"math"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/state"
)

// Propagate prices items in sequence order. Each active recipe gets a unit
// cost from the prices known so far; the cheapest producer of an item sets
// the price its consumers see. Inactive recipes are recorded with NaN.
func Propagate(cat *catalogs.Catalog, st state.State, order []catalogs.ItemID, p Params) (state.Selection, map[catalogs.ItemID]float64) {
	sel := st.Selection()
	prices := st.Prices()

	for _, item := range order {
		recipes := st.RecipesFor(item)
		if len(recipes) == 0 {
			continue
		}
		produced := false
		for _, id := range recipes {
			r, ok := cat.Recipe(id)
			if !ok {
				continue
			}
			mods := Resolve(r, st)
			if !mods.Active {
				sel[item][id] = state.Entry{Price: math.NaN()}
				continue
			}
			unit := UnitCost(r, mods, prices, p)
			sel[item][id] = state.Entry{Price: unit, Active: true}

			if !produced {
				// An active producer overrides any manual price.
				delete(prices, item)
				produced = true
			}
			if cur, ok := prices[item]; !ok || math.IsNaN(cur) || unit < cur {
				prices[item] = unit
			}
		}
	}
	return sel, prices
}

// UnitCost is the batch cost of a recipe divided by its primary product
// quantity. Missing ingredient prices make the result NaN.
func UnitCost(r catalogs.Recipe, mods Modifiers, prices map[catalogs.ItemID]float64, p Params) float64 {
	scale := mods.DynamicScale(p)
	total := 0.0
	for _, in := range r.Ingredients {
		price, ok := prices[in.Item]
		if !ok {
			price = math.NaN()
		}
		c := price * in.Quantity
		if !in.IsStatic {
			c *= scale
		}
		total += c
	}
	return total / r.PrimaryQuantity()
}

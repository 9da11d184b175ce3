// Package state holds the calculator session snapshot. A State is never
// modified in place: every mutation returns a new State and leaves the
// receiver valid for display.
package state

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"

	"ecocalc/internal/catalogs"
)

var ErrUnknownSkill = errors.New("skill not in use")

// ErrNotPriced is returned when a price is set on an item outside the manual
// price list: items nothing selected consumes, or items a selected recipe
// produces.
var ErrNotPriced = errors.New("item has no manual price")

// Entry is the last computed unit price of one selected recipe.
type Entry struct {
	Price  float64
	Active bool
}

// Selection maps a product to the recipes selected to produce it.
type Selection map[catalogs.ItemID]map[catalogs.RecipeID]Entry

func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for item, recipes := range s {
		out[item] = maps.Clone(recipes)
	}
	return out
}

type Skill struct {
	Level  int
	Lavish bool
	// Tables is derived from the selection: the crafting tables of selected
	// recipes requiring this skill.
	Tables []catalogs.TableID
}

type State struct {
	selection Selection
	skills    map[catalogs.SkillID]Skill
	tables    map[catalogs.TableID]TableSetting
	prices    map[catalogs.ItemID]float64
	effective map[catalogs.ItemID]float64
}

func New() State {
	return State{
		selection: Selection{},
		skills:    map[catalogs.SkillID]Skill{},
		tables:    map[catalogs.TableID]TableSetting{},
		prices:    map[catalogs.ItemID]float64{},
		effective: map[catalogs.ItemID]float64{},
	}
}

// Products lists products with at least one selected recipe, sorted.
func (s State) Products() []catalogs.ItemID {
	out := make([]catalogs.ItemID, 0, len(s.selection))
	for item := range s.selection {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecipesFor lists the recipes selected under a product, sorted.
func (s State) RecipesFor(item catalogs.ItemID) []catalogs.RecipeID {
	recipes := s.selection[item]
	out := make([]catalogs.RecipeID, 0, len(recipes))
	for id := range recipes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s State) Entry(item catalogs.ItemID, recipe catalogs.RecipeID) (Entry, bool) {
	e, ok := s.selection[item][recipe]
	return e, ok
}

// SelectedRecipes flattens the selection, sorted.
func (s State) SelectedRecipes() []catalogs.RecipeID {
	var out []catalogs.RecipeID
	for _, recipes := range s.selection {
		for id := range recipes {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s State) IsSelected(cat *catalogs.Catalog, id catalogs.RecipeID) bool {
	r, ok := cat.Recipe(id)
	if !ok {
		return false
	}
	_, ok = s.selection[r.Primary][id]
	return ok
}

func (s State) Selection() Selection { return s.selection.Clone() }

func (s State) Skill(id catalogs.SkillID) (Skill, bool) {
	sk, ok := s.skills[id]
	return sk, ok
}

func (s State) SkillIDs() []catalogs.SkillID {
	out := make([]catalogs.SkillID, 0, len(s.skills))
	for id := range s.skills {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s State) TableSetting(id catalogs.TableID) TableSetting { return s.tables[id] }

func (s State) TableSettings() map[catalogs.TableID]TableSetting { return maps.Clone(s.tables) }

// Price is the manual price of a leaf ingredient.
func (s State) Price(item catalogs.ItemID) (float64, bool) {
	p, ok := s.prices[item]
	return p, ok
}

func (s State) Prices() map[catalogs.ItemID]float64 { return maps.Clone(s.prices) }

// PricedItems lists the items whose price is entered manually, sorted.
func (s State) PricedItems() []catalogs.ItemID {
	out := make([]catalogs.ItemID, 0, len(s.prices))
	for id := range s.prices {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Effective is the price map of the last recompute pass: manual prices
// overlaid with the cheapest computed producer price.
func (s State) Effective() map[catalogs.ItemID]float64 { return maps.Clone(s.effective) }

func (s State) EffectivePrice(item catalogs.ItemID) float64 {
	p, ok := s.effective[item]
	if !ok {
		return math.NaN()
	}
	return p
}

// WithResults attaches the output of a recompute pass.
func (s State) WithResults(sel Selection, effective map[catalogs.ItemID]float64) State {
	s.selection = sel
	s.effective = effective
	return s
}

func (s State) AddRecipe(cat *catalogs.Catalog, id catalogs.RecipeID) (State, error) {
	r, ok := cat.Recipe(id)
	if !ok {
		return s, fmt.Errorf("recipe %s: %w", id, catalogs.ErrMissingCatalogEntry)
	}
	if _, ok := s.selection[r.Primary][id]; ok {
		return s, nil
	}
	sel := s.selection.Clone()
	addToSelection(sel, r)
	return s.withSelection(cat, sel), nil
}

// RemoveRecipe drops one recipe; a product left without recipes is removed.
func (s State) RemoveRecipe(cat *catalogs.Catalog, id catalogs.RecipeID) (State, error) {
	r, ok := cat.Recipe(id)
	if !ok {
		return s, fmt.Errorf("recipe %s: %w", id, catalogs.ErrMissingCatalogEntry)
	}
	if _, ok := s.selection[r.Primary][id]; !ok {
		return s, nil
	}
	sel := s.selection.Clone()
	delete(sel[r.Primary], id)
	if len(sel[r.Primary]) == 0 {
		delete(sel, r.Primary)
	}
	return s.withSelection(cat, sel), nil
}

// RemoveProduct drops every recipe selected under a product.
func (s State) RemoveProduct(cat *catalogs.Catalog, item catalogs.ItemID) State {
	if _, ok := s.selection[item]; !ok {
		return s
	}
	sel := s.selection.Clone()
	delete(sel, item)
	return s.withSelection(cat, sel)
}

// AddSkill selects every recipe requiring the skill.
func (s State) AddSkill(cat *catalogs.Catalog, skill catalogs.SkillID) State {
	sel := s.selection.Clone()
	for _, id := range cat.RecipesBySkill(skill) {
		r, _ := cat.Recipe(id)
		addToSelection(sel, r)
	}
	return s.withSelection(cat, sel)
}

// RemoveSkill drops every selected recipe requiring the skill.
func (s State) RemoveSkill(cat *catalogs.Catalog, skill catalogs.SkillID) State {
	sel := s.selection.Clone()
	for item, recipes := range sel {
		for id := range recipes {
			if r, ok := cat.Recipe(id); ok && r.RequiresSkill(skill) {
				delete(recipes, id)
			}
		}
		if len(recipes) == 0 {
			delete(sel, item)
		}
	}
	return s.withSelection(cat, sel)
}

// SetSkillLevel applies user input to a skill level. Dropping below
// LavishLevel clears lavish; reaching it from below turns lavish on.
func (s State) SetSkillLevel(skill catalogs.SkillID, input string) (State, error) {
	sk, ok := s.skills[skill]
	if !ok {
		return s, fmt.Errorf("%s: %w", skill, ErrUnknownSkill)
	}
	level := ParseSkillLevel(input)
	lavish := sk.Lavish
	if level < LavishLevel {
		lavish = false
	} else if sk.Level < LavishLevel {
		lavish = true
	}
	sk.Level = level
	sk.Lavish = lavish
	return s.withSkill(skill, sk), nil
}

// SetLavish toggles the lavish talent; it cannot be enabled below LavishLevel.
func (s State) SetLavish(skill catalogs.SkillID, on bool) (State, error) {
	sk, ok := s.skills[skill]
	if !ok {
		return s, fmt.Errorf("%s: %w", skill, ErrUnknownSkill)
	}
	sk.Lavish = on && sk.Level >= LavishLevel
	return s.withSkill(skill, sk), nil
}

func (s State) SetTableSetting(table catalogs.TableID, input string) State {
	tables := maps.Clone(s.tables)
	if setting := ParseTableSetting(input); setting.Used() {
		tables[table] = setting
	} else {
		delete(tables, table)
	}
	s.tables = tables
	return s
}

// SetPrice sets the manual price of a listed ingredient.
func (s State) SetPrice(item catalogs.ItemID, input string) (State, error) {
	if _, ok := s.prices[item]; !ok {
		return s, fmt.Errorf("%s: %w", item, ErrNotPriced)
	}
	prices := maps.Clone(s.prices)
	prices[item] = ParsePrice(input)
	s.prices = prices
	return s, nil
}

// Unselected lists catalog recipes that are not selected yet, in catalog order.
func (s State) Unselected(cat *catalogs.Catalog) []catalogs.RecipeID {
	var out []catalogs.RecipeID
	for _, id := range cat.RecipeIDs() {
		if !s.IsSelected(cat, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s State) withSkill(id catalogs.SkillID, sk Skill) State {
	skills := maps.Clone(s.skills)
	skills[id] = sk
	s.skills = skills
	return s
}

func (s State) withSelection(cat *catalogs.Catalog, sel Selection) State {
	s.selection = sel
	return s.refresh(cat)
}

func addToSelection(sel Selection, r catalogs.Recipe) {
	recipes, ok := sel[r.Primary]
	if !ok {
		recipes = map[catalogs.RecipeID]Entry{}
		sel[r.Primary] = recipes
	}
	if _, ok := recipes[r.ID]; !ok {
		recipes[r.ID] = Entry{Price: math.NaN()}
	}
}

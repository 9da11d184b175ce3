// Package selection converts session state to and from the portable
// selection document users export and import.
package selection

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/state"
)

type Document struct {
	Skills      map[string]SkillValue `json:"skills"`
	Ingredients map[string]Number     `json:"ingredients"`
	Recipes     []string              `json:"recipes"`
	Tables      map[string]string     `json:"tables,omitempty"`
}

type SkillValue struct {
	Value  Number `json:"value"`
	Lavish bool   `json:"lavish"`
}

// Number accepts both JSON numbers and the numeric strings older exports
// stored form input as.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(state.ParsePrice(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Warning reports a recipe the catalog does not know; it was skipped.
type Warning struct {
	Recipe      catalogs.RecipeID   `json:"recipe"`
	Suggestions []catalogs.RecipeID `json:"suggestions,omitempty"`
}

func (w Warning) Error() string {
	return fmt.Sprintf("recipe %s: %v", w.Recipe, catalogs.ErrMissingCatalogEntry)
}

func (w Warning) Unwrap() error { return catalogs.ErrMissingCatalogEntry }

//go:embed schemas/selection.schema.json
var selectionSchemaJSON []byte

var selectionSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("selection.schema.json", bytes.NewReader(selectionSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("selection.schema.json")
})

func Export(st state.State) Document {
	doc := Document{
		Skills:      map[string]SkillValue{},
		Ingredients: map[string]Number{},
		Recipes:     []string{},
	}
	for _, id := range st.SkillIDs() {
		sk, _ := st.Skill(id)
		doc.Skills[string(id)] = SkillValue{Value: Number(sk.Level), Lavish: sk.Lavish}
	}
	for _, item := range st.PricedItems() {
		p, _ := st.Price(item)
		doc.Ingredients[string(item)] = Number(p)
	}
	for _, id := range st.SelectedRecipes() {
		doc.Recipes = append(doc.Recipes, string(id))
	}
	tables := st.TableSettings()
	if len(tables) > 0 {
		doc.Tables = make(map[string]string, len(tables))
		for t, setting := range tables {
			doc.Tables[string(t)] = setting.String()
		}
	}
	return doc
}

func Marshal(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func Parse(raw []byte) (Document, error) {
	var doc Document
	schema, err := selectionSchema()
	if err != nil {
		return doc, fmt.Errorf("selection schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return doc, fmt.Errorf("selection: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return doc, fmt.Errorf("selection: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("selection: %w", err)
	}
	return doc, nil
}

// Apply rebuilds a State from a document. Recipes missing from the catalog
// are skipped, each reported as a Warning.
func Apply(cat *catalogs.Catalog, doc Document) (state.State, []Warning) {
	r := state.Restore{
		Skills: make(map[catalogs.SkillID]state.SkillLevel, len(doc.Skills)),
		Prices: make(map[catalogs.ItemID]float64, len(doc.Ingredients)),
		Tables: make(map[catalogs.TableID]state.TableSetting, len(doc.Tables)),
	}
	for _, id := range doc.Recipes {
		r.Recipes = append(r.Recipes, catalogs.RecipeID(id))
	}
	for id, v := range doc.Skills {
		r.Skills[catalogs.SkillID(id)] = state.SkillLevel{
			Level:  state.ParseSkillLevel(strconv.FormatFloat(float64(v.Value), 'f', -1, 64)),
			Lavish: v.Lavish,
		}
	}
	for id, p := range doc.Ingredients {
		r.Prices[catalogs.ItemID(id)] = float64(p)
	}
	for id, s := range doc.Tables {
		r.Tables[catalogs.TableID(id)] = state.ParseTableSetting(s)
	}

	st, missing := state.Restored(cat, r)
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	var warns []Warning
	for _, id := range missing {
		warns = append(warns, Warning{Recipe: id, Suggestions: cat.Suggest(string(id), 3)})
	}
	return st, warns
}

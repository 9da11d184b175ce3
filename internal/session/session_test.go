package session

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	"ecocalc/internal/state"
)

type capture struct{ passes []Pass }

func (c *capture) RecordPass(p Pass) { c.passes = append(c.passes, p) }

func loadCatalog(t *testing.T) *catalogs.Catalog {
	t.Helper()
	c, err := catalogs.Load("../../configs/catalog.json")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func mustApply(t *testing.T, s *Session, e Edit) View {
	t.Helper()
	v, err := s.Apply(e)
	if err != nil {
		t.Fatalf("apply %s: %v", e.Op, err)
	}
	return v
}

func TestApply_PricesFollowEdits(t *testing.T) {
	cat := loadCatalog(t)
	s := New("s1", cat, engine.DefaultParams(), WithLanguage("English"))

	v := mustApply(t, s, Edit{Op: OpAddRecipe, Recipe: "IronBarRecipe"})
	if len(v.Results) != 0 {
		t.Fatalf("no table in use yet, results=%+v", v.Results)
	}
	if len(v.Skills) != 1 || v.Skills[0].Skill != "SmeltingSkill" || len(v.Skills[0].Tables) != 2 {
		t.Fatalf("skills: %+v", v.Skills)
	}
	if len(v.Ingredients) != 1 || v.Ingredients[0].Item != "IronOreItem" || v.Ingredients[0].Name != "Iron Ore" {
		t.Fatalf("ingredients: %+v", v.Ingredients)
	}

	mustApply(t, s, Edit{Op: OpSetTable, Table: "BloomeryItem", Value: "1"})
	v = mustApply(t, s, Edit{Op: OpSetPrice, Item: "IronOreItem", Value: "2,5"})
	if len(v.Results) != 1 || v.Results[0].Item != "IronBarItem" {
		t.Fatalf("results: %+v", v.Results)
	}
	if got := float64(v.Results[0].Price); math.Abs(got-10) > 1e-9 {
		t.Fatalf("iron bar price=%v want 10", got)
	}

	v = mustApply(t, s, Edit{Op: OpSetSkill, Skill: "SmeltingSkill", Value: "6"})
	if !v.Skills[0].Lavish || !v.Skills[0].LavishAvailable {
		t.Fatalf("lavish should switch on at level 6: %+v", v.Skills[0])
	}
	if got := float64(v.Results[0].Price); math.Abs(got-9.5) > 1e-9 {
		t.Fatalf("lavish iron bar price=%v want 9.5", got)
	}
	if v.Seq != 4 {
		t.Fatalf("seq=%d", v.Seq)
	}
}

func TestApply_CycleKeepsPreviousState(t *testing.T) {
	cat, err := catalogs.New("test", []catalogs.Recipe{
		{
			ID:          "ARecipe",
			Products:    []catalogs.Quantity{{Item: "AItem", Amount: 1}},
			Ingredients: []catalogs.Ingredient{{Item: "BItem", Quantity: 1}},
			Tables:      []catalogs.TableID{"Bench"},
		},
		{
			ID:          "BRecipe",
			Products:    []catalogs.Quantity{{Item: "BItem", Amount: 1}},
			Ingredients: []catalogs.Ingredient{{Item: "AItem", Quantity: 1}},
			Tables:      []catalogs.TableID{"Bench"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	rec := &capture{}
	s := New("s2", cat, engine.DefaultParams(), WithRecorder(rec))
	mustApply(t, s, Edit{Op: OpAddRecipe, Recipe: "ARecipe"})

	v, err := s.Apply(Edit{Op: OpAddRecipe, Recipe: "BRecipe"})
	var ce *engine.CycleError
	if !errors.As(err, &ce) || !errors.Is(err, engine.ErrCyclicDependency) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if got := s.State().SelectedRecipes(); len(got) != 1 || got[0] != "ARecipe" {
		t.Fatalf("state changed after failed pass: %v", got)
	}
	if len(v.Rest) != 1 || v.Rest[0].Recipe != "BRecipe" {
		t.Fatalf("rest: %+v", v.Rest)
	}
	if len(rec.passes) != 2 || rec.passes[1].Err == nil || rec.passes[1].Seq != 2 {
		t.Fatalf("recorded passes: %+v", rec.passes)
	}
}

func TestApply_RejectsBadEdits(t *testing.T) {
	cat := loadCatalog(t)
	s := New("s3", cat, engine.DefaultParams())

	for _, e := range []Edit{
		{Op: "EXPLODE"},
		{Op: OpSetPrice},
		{Op: OpSetLanguage, Language: "Klingon"},
		{Op: OpImport, Document: json.RawMessage(`{"recipes":42}`)},
	} {
		if _, err := s.Apply(e); !errors.Is(err, ErrBadEdit) {
			t.Fatalf("%s: expected ErrBadEdit, got %v", e.Op, err)
		}
	}
	if _, err := s.Apply(Edit{Op: OpAddRecipe, Recipe: "NopeRecipe"}); !errors.Is(err, catalogs.ErrMissingCatalogEntry) {
		t.Fatalf("expected missing catalog entry, got %v", err)
	}
	if _, err := s.Apply(Edit{Op: OpSetSkill, Skill: "SmeltingSkill", Value: "3"}); !errors.Is(err, state.ErrUnknownSkill) {
		t.Fatalf("expected unknown skill, got %v", err)
	}

	mustApply(t, s, Edit{Op: OpAddRecipe, Recipe: "IronBarRecipe"})
	before := s.View()
	if _, err := s.Apply(Edit{Op: OpSetPrice, Item: "IronBarItem", Value: "5"}); !errors.Is(err, state.ErrNotPriced) {
		t.Fatalf("expected ErrNotPriced, got %v", err)
	}
	if after := s.View(); len(after.Ingredients) != len(before.Ingredients) || after.Ingredients[0].Item != "IronOreItem" {
		t.Fatalf("ingredients changed: %+v", after.Ingredients)
	}
}

func TestApply_LanguageAndImport(t *testing.T) {
	cat := loadCatalog(t)
	s := New("s4", cat, engine.DefaultParams(), WithLanguage("English"))

	v := mustApply(t, s, Edit{Op: OpImport, Document: json.RawMessage(`{
	  "skills":{"SmeltingSkill":{"value":2,"lavish":false}},
	  "ingredients":{"IronOreItem":1},
	  "recipes":["IronBarRecipe","IronGearRecipe","IronGearRecipee"],
	  "tables":{"BloomeryItem":"1","AnvilItem":"0.5"}
	}`)})
	if len(v.Warnings) != 1 || v.Warnings[0].Recipe != "IronGearRecipee" {
		t.Fatalf("warnings: %+v", v.Warnings)
	}
	var gear ProductResult
	for _, r := range v.Results {
		if r.Item == "IronGearItem" {
			gear = r
		}
	}
	// bar = 1*4 = 4, gear = 4*2*0.5 = 4
	if math.Abs(float64(gear.Price)-4) > 1e-9 || gear.Name != "Iron Gear" {
		t.Fatalf("gear: %+v", gear)
	}

	v = mustApply(t, s, Edit{Op: OpSetLanguage, Language: "Deutsch"})
	if v.Language != "Deutsch" || len(v.Warnings) != 1 {
		t.Fatalf("view after language switch: %+v", v)
	}
	for _, r := range v.Results {
		if r.Item == "IronGearItem" && r.Name != "Eisenzahnrad" {
			t.Fatalf("name=%q", r.Name)
		}
	}

	v = mustApply(t, s, Edit{Op: OpSetTable, Table: "AnvilItem", Value: "1"})
	if len(v.Warnings) != 1 || v.Warnings[0].Recipe != "IronGearRecipee" || len(v.Warnings[0].Suggestions) == 0 {
		t.Fatalf("import warnings lost after a table edit: %+v", v.Warnings)
	}
	mustApply(t, s, Edit{Op: OpSetTable, Table: "AnvilItem", Value: "0.5"})

	doc := s.Export()
	if len(doc.Recipes) != 2 || doc.Tables["AnvilItem"] != "0.5" {
		t.Fatalf("export: %+v", doc)
	}
}

func TestView_UnknownPricesEncodeAsNull(t *testing.T) {
	cat := loadCatalog(t)
	s := New("s5", cat, engine.DefaultParams(), WithLanguage("English"))
	mustApply(t, s, Edit{Op: OpAddRecipe, Recipe: "IronGearRecipe"})
	v := mustApply(t, s, Edit{Op: OpSetTable, Table: "AnvilItem", Value: "1"})

	// IronBarItem is produced by nothing selected, so its price is manual (0).
	if len(v.Results) != 1 || float64(v.Results[0].Price) != 0 {
		t.Fatalf("results: %+v", v.Results)
	}

	b, err := json.Marshal(Price(math.NaN()))
	if err != nil || string(b) != "null" {
		t.Fatalf("NaN encoded as %s (%v)", b, err)
	}
	if _, err := json.Marshal(v); err != nil {
		t.Fatalf("marshal view: %v", err)
	}
	if !strings.Contains(string(mustJSON(t, v)), `"session":"s5"`) {
		t.Fatalf("view json missing session id")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestApply_RemoveProduct(t *testing.T) {
	cat := loadCatalog(t)
	s := New("s6", cat, engine.DefaultParams(), WithLanguage("English"))
	mustApply(t, s, Edit{Op: OpAddSkill, Skill: "SmeltingSkill"})
	mustApply(t, s, Edit{Op: OpSetTable, Table: "BloomeryItem", Value: "1"})
	v := mustApply(t, s, Edit{Op: OpSetTable, Table: "AnvilItem", Value: "1"})
	if len(v.Results) != 2 {
		t.Fatalf("results: %+v", v.Results)
	}

	v = mustApply(t, s, Edit{Op: OpRemoveProduct, Item: "IronBarItem"})
	if len(v.Results) != 1 || v.Results[0].Item != "IronGearItem" {
		t.Fatalf("results: %+v", v.Results)
	}
	// The bar is now bought, not made.
	if len(v.Ingredients) != 1 || v.Ingredients[0].Item != "IronBarItem" {
		t.Fatalf("ingredients: %+v", v.Ingredients)
	}
	if len(v.Skills) != 1 || len(v.Skills[0].Tables) != 1 || v.Skills[0].Tables[0].Table != "AnvilItem" {
		t.Fatalf("skills: %+v", v.Skills)
	}
	for _, r := range v.Rest {
		if r.Recipe == "IronGearRecipe" {
			t.Fatalf("gear recipe should still be selected")
		}
	}
}

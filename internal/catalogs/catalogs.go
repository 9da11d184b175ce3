package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type (
	ItemID   string
	RecipeID string
	SkillID  string
	TableID  string
	FamilyID string
)

// ErrMissingCatalogEntry marks lookups of identifiers the catalog does not know.
var ErrMissingCatalogEntry = errors.New("missing catalog entry")

type Catalog struct {
	Version string
	Digest  string

	localization map[string]map[string]string
	languages    []string

	recipes   map[RecipeID]Recipe
	recipeIDs []RecipeID
	items     []ItemID
	skills    []SkillID
}

type Recipe struct {
	ID         RecipeID
	Family     FamilyID
	Labor      float64
	NumRecipes int

	// Primary is the product competing recipes are grouped under and the
	// divisor of the unit cost. Products keeps declaration order.
	Primary     ItemID
	Products    []Quantity
	Ingredients []Ingredient
	Skills      []SkillReq
	Tables      []TableID
}

type Quantity struct {
	Item   ItemID
	Amount float64
}

type Ingredient struct {
	Item     ItemID
	IsTag    bool
	IsStatic bool
	Quantity float64
}

type SkillReq struct {
	Skill SkillID
	Level int
}

func (r Recipe) PrimaryQuantity() float64 {
	for _, p := range r.Products {
		if p.Item == r.Primary {
			return p.Amount
		}
	}
	return 0
}

func (r Recipe) RequiresSkill(skill SkillID) bool {
	for _, s := range r.Skills {
		if s.Skill == skill {
			return true
		}
	}
	return false
}

func (r Recipe) CraftableAt(table TableID) bool {
	for _, t := range r.Tables {
		if t == table {
			return true
		}
	}
	return false
}

type exportJSON struct {
	Version      string                       `json:"Version"`
	Localization map[string]map[string]string `json:"Localization"`
	Recipes      map[string]recipeJSON        `json:"Recipes"`
}

type recipeJSON struct {
	Family         string          `json:"family"`
	Labor          float64         `json:"labor"`
	NumRecipes     int             `json:"numRecipes"`
	Products       json.RawMessage `json:"products"`
	Ingredients    json.RawMessage `json:"ingredients"`
	RequiredSkills map[string]int  `json:"requiredSkills"`
	Tables         []string        `json:"tables"`
}

type ingredientJSON struct {
	IsTag    bool    `json:"isTag"`
	IsStatic bool    `json:"isStatic"`
	Quantity float64 `json:"quantity"`
}

//go:embed schemas/catalog.schema.json
var catalogSchemaJSON []byte

var catalogSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("catalog.schema.json", bytes.NewReader(catalogSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("catalog.schema.json")
})

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	schema, err := catalogSchema()
	if err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	var ex exportJSON
	if err := json.Unmarshal(raw, &ex); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	recipes := make([]Recipe, 0, len(ex.Recipes))
	for id, rj := range ex.Recipes {
		r, err := decodeRecipe(RecipeID(id), rj)
		if err != nil {
			return nil, fmt.Errorf("catalog: recipe %s: %w", id, err)
		}
		recipes = append(recipes, r)
	}

	c, err := New(ex.Version, recipes, ex.Localization)
	if err != nil {
		return nil, err
	}
	c.Digest = sha256Hex(raw)
	return c, nil
}

func decodeRecipe(id RecipeID, rj recipeJSON) (Recipe, error) {
	r := Recipe{
		ID:         id,
		Family:     FamilyID(rj.Family),
		Labor:      rj.Labor,
		NumRecipes: rj.NumRecipes,
	}

	products, err := decodeOrdered(rj.Products)
	if err != nil {
		return r, fmt.Errorf("products: %w", err)
	}
	for _, p := range products {
		var n float64
		if err := json.Unmarshal(p.Value, &n); err != nil {
			return r, fmt.Errorf("product %s: %w", p.Key, err)
		}
		r.Products = append(r.Products, Quantity{Item: ItemID(p.Key), Amount: n})
	}

	ingredients, err := decodeOrdered(rj.Ingredients)
	if err != nil {
		return r, fmt.Errorf("ingredients: %w", err)
	}
	for _, in := range ingredients {
		var ij ingredientJSON
		if err := json.Unmarshal(in.Value, &ij); err != nil {
			return r, fmt.Errorf("ingredient %s: %w", in.Key, err)
		}
		r.Ingredients = append(r.Ingredients, Ingredient{
			Item:     ItemID(in.Key),
			IsTag:    ij.IsTag,
			IsStatic: ij.IsStatic,
			Quantity: ij.Quantity,
		})
	}

	for s, lvl := range rj.RequiredSkills {
		r.Skills = append(r.Skills, SkillReq{Skill: SkillID(s), Level: lvl})
	}
	sort.Slice(r.Skills, func(i, j int) bool { return r.Skills[i].Skill < r.Skills[j].Skill })

	for _, t := range rj.Tables {
		r.Tables = append(r.Tables, TableID(t))
	}
	return r, nil
}

// New indexes recipes into a catalog. A recipe without an explicit Primary
// takes its first declared product.
func New(version string, recipes []Recipe, localization map[string]map[string]string) (*Catalog, error) {
	c := &Catalog{
		Version:      version,
		localization: localization,
		recipes:      make(map[RecipeID]Recipe, len(recipes)),
	}
	if c.localization == nil {
		c.localization = map[string]map[string]string{}
	}

	items := map[ItemID]struct{}{}
	skills := map[SkillID]struct{}{}
	for _, r := range recipes {
		if r.ID == "" {
			return nil, fmt.Errorf("catalog: empty recipe id")
		}
		if _, dup := c.recipes[r.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate recipe %s", r.ID)
		}
		if len(r.Products) == 0 {
			return nil, fmt.Errorf("catalog: recipe %s has no products", r.ID)
		}
		if r.Primary == "" {
			r.Primary = r.Products[0].Item
		}
		if q := r.PrimaryQuantity(); !(q > 0) {
			return nil, fmt.Errorf("catalog: recipe %s: primary product %s has quantity %v", r.ID, r.Primary, q)
		}
		if r.Family == "" {
			r.Family = FamilyID(r.ID)
		}
		c.recipes[r.ID] = r
		c.recipeIDs = append(c.recipeIDs, r.ID)

		for _, p := range r.Products {
			items[p.Item] = struct{}{}
		}
		for _, in := range r.Ingredients {
			items[in.Item] = struct{}{}
		}
		for _, s := range r.Skills {
			skills[s.Skill] = struct{}{}
		}
	}
	sort.Slice(c.recipeIDs, func(i, j int) bool { return c.recipeIDs[i] < c.recipeIDs[j] })

	for id := range items {
		c.items = append(c.items, id)
	}
	sort.Slice(c.items, func(i, j int) bool { return c.items[i] < c.items[j] })
	for id := range skills {
		c.skills = append(c.skills, id)
	}
	sort.Slice(c.skills, func(i, j int) bool { return c.skills[i] < c.skills[j] })

	for lang := range c.localization {
		c.languages = append(c.languages, lang)
	}
	sort.Strings(c.languages)
	return c, nil
}

func (c *Catalog) Recipe(id RecipeID) (Recipe, bool) {
	r, ok := c.recipes[id]
	return r, ok
}

// RecipeIDs is the catalog enumeration order (sorted).
func (c *Catalog) RecipeIDs() []RecipeID { return append([]RecipeID(nil), c.recipeIDs...) }

// Items lists every product and ingredient identifier, sorted.
func (c *Catalog) Items() []ItemID { return append([]ItemID(nil), c.items...) }

func (c *Catalog) Skills() []SkillID { return append([]SkillID(nil), c.skills...) }

func (c *Catalog) Languages() []string { return append([]string(nil), c.languages...) }

func (c *Catalog) HasLanguage(lang string) bool {
	_, ok := c.localization[lang]
	return ok
}

func (c *Catalog) RecipesBySkill(skill SkillID) []RecipeID {
	var out []RecipeID
	for _, id := range c.recipeIDs {
		if c.recipes[id].RequiresSkill(skill) {
			out = append(out, id)
		}
	}
	return out
}

// Name returns the localized display string for an item, tag, skill, table
// or recipe identifier, falling back to the identifier itself.
func (c *Catalog) Name(lang, id string) string {
	if names, ok := c.localization[lang]; ok {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
	}
	return id
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

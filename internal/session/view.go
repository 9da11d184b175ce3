package session

import (
	"math"
	"strconv"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/selection"
	"ecocalc/internal/state"
)

// Price encodes NaN and infinities as JSON null.
type Price float64

func (p Price) MarshalJSON() ([]byte, error) {
	f := float64(p)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = Price(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*p = Price(f)
	return nil
}

func (p Price) Known() bool {
	f := float64(p)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

type View struct {
	Session  string `json:"session"`
	Seq      uint64 `json:"seq"`
	Language string `json:"language"`

	Results     []ProductResult     `json:"results"`
	Skills      []SkillView         `json:"skills"`
	Ingredients []IngredientView    `json:"ingredients"`
	Rest        []RecipeRef         `json:"rest"`
	Warnings    []selection.Warning `json:"warnings,omitempty"`
}

type ProductResult struct {
	Item    string         `json:"item"`
	Name    string         `json:"name"`
	Price   Price          `json:"price"`
	Recipes []RecipeResult `json:"recipes"`
}

type RecipeResult struct {
	Recipe string `json:"recipe"`
	Name   string `json:"name"`
	Price  Price  `json:"price"`
}

type SkillView struct {
	Skill  string `json:"skill"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	Lavish bool   `json:"lavish"`

	// LavishAvailable tells the form whether to offer the lavish talent.
	LavishAvailable bool        `json:"lavish_available"`
	Tables          []TableView `json:"tables"`
}

type TableView struct {
	Table   string `json:"table"`
	Name    string `json:"name"`
	Setting string `json:"setting"`
}

type IngredientView struct {
	Item  string  `json:"item"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type RecipeRef struct {
	Recipe string `json:"recipe"`
	Name   string `json:"name"`
}

func buildView(cat *catalogs.Catalog, id string, seq uint64, lang string, st state.State, warns []selection.Warning) View {
	v := View{
		Session:     id,
		Seq:         seq,
		Language:    lang,
		Results:     []ProductResult{},
		Skills:      []SkillView{},
		Ingredients: []IngredientView{},
		Rest:        []RecipeRef{},
		Warnings:    warns,
	}
	for _, item := range st.Products() {
		pr := ProductResult{
			Item:  string(item),
			Name:  cat.Name(lang, string(item)),
			Price: Price(st.EffectivePrice(item)),
		}
		for _, rid := range st.RecipesFor(item) {
			e, _ := st.Entry(item, rid)
			if !e.Active {
				continue
			}
			pr.Recipes = append(pr.Recipes, RecipeResult{
				Recipe: string(rid),
				Name:   cat.Name(lang, string(rid)),
				Price:  Price(e.Price),
			})
		}
		if len(pr.Recipes) == 0 {
			continue
		}
		v.Results = append(v.Results, pr)
	}
	for _, sid := range st.SkillIDs() {
		sk, _ := st.Skill(sid)
		sv := SkillView{
			Skill:           string(sid),
			Name:            cat.Name(lang, string(sid)),
			Level:           sk.Level,
			Lavish:          sk.Lavish,
			LavishAvailable: sk.Level >= state.LavishLevel,
			Tables:          make([]TableView, 0, len(sk.Tables)),
		}
		for _, t := range sk.Tables {
			sv.Tables = append(sv.Tables, TableView{
				Table:   string(t),
				Name:    cat.Name(lang, string(t)),
				Setting: st.TableSetting(t).String(),
			})
		}
		v.Skills = append(v.Skills, sv)
	}
	for _, item := range st.PricedItems() {
		p, _ := st.Price(item)
		v.Ingredients = append(v.Ingredients, IngredientView{
			Item:  string(item),
			Name:  cat.Name(lang, string(item)),
			Price: p,
		})
	}
	for _, rid := range st.Unselected(cat) {
		v.Rest = append(v.Rest, RecipeRef{Recipe: string(rid), Name: cat.Name(lang, string(rid))})
	}
	return v
}

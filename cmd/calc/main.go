package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"ecocalc/internal/catalogs"
	"ecocalc/internal/engine"
	"ecocalc/internal/persistence/indexdb"
	"ecocalc/internal/selection"
	"ecocalc/internal/session"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "compute":
			computeCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "history":
			historyCmd(os.Args[2:])
			return
		case "passes":
			passesCmd(os.Args[2:])
			return
		case "recipes":
			recipesCmd(os.Args[2:])
			return
		}
	}
	recipesCmd(os.Args[1:])
}

// tableFlags collects repeated -table Name=setting flags.
type tableFlags map[string]string

func (t tableFlags) String() string {
	parts := make([]string, 0, len(t))
	for k, v := range t {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (t tableFlags) Set(s string) error {
	name, setting, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("want Table=setting, got %q", s)
	}
	t[strings.TrimSpace(name)] = strings.TrimSpace(setting)
	return nil
}

func loadCatalog(path string) *catalogs.Catalog {
	cat, err := catalogs.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalog:", err)
		os.Exit(1)
	}
	return cat
}

func computeCmd(args []string) {
	fs := flag.NewFlagSet("compute", flag.ExitOnError)
	catalogPath := fs.String("catalog", "./configs/catalog.json", "catalog export path")
	selPath := fs.String("selection", "", "selection document (.json or .json.zst)")
	lang := fs.String("lang", "English", "display language")
	lavish := fs.Float64("lavish_factor", engine.DefaultParams().LavishFactor, "dynamic ingredient factor for lavish skills")
	asJSON := fs.Bool("json", false, "print the full view as JSON")
	tables := tableFlags{}
	fs.Var(tables, "table", "crafting table setting Table=multiplier (repeatable; \"unused\" disables)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*selPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -selection")
		os.Exit(2)
	}
	cat := loadCatalog(*catalogPath)
	doc, err := selection.LoadFile(*selPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read selection:", err)
		os.Exit(1)
	}
	raw, err := selection.Marshal(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode selection:", err)
		os.Exit(1)
	}

	s := session.New("cli", cat, engine.Params{LavishFactor: *lavish}, session.WithLanguage(*lang))
	view, err := s.Apply(session.Edit{Op: session.OpImport, Document: raw})
	if err != nil {
		fmt.Fprintln(os.Stderr, "compute:", err)
		os.Exit(1)
	}
	for table, setting := range tables {
		if view, err = s.Apply(session.Edit{Op: session.OpSetTable, Table: table, Value: setting}); err != nil {
			fmt.Fprintln(os.Stderr, "compute:", err)
			os.Exit(1)
		}
	}
	for _, w := range view.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %v", w)
		if len(w.Suggestions) > 0 {
			fmt.Fprintf(os.Stderr, " (did you mean %v?)", w.Suggestions)
		}
		fmt.Fprintln(os.Stderr)
	}

	if *asJSON {
		printJSON(view)
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tRECIPE\tPRICE")
	for _, p := range view.Results {
		fmt.Fprintf(tw, "%s\t\t%s\n", p.Name, formatPrice(p.Price))
		for _, r := range p.Recipes {
			fmt.Fprintf(tw, "\t%s\t%s\n", r.Name, formatPrice(r.Price))
		}
	}
	_ = tw.Flush()
}

// formatPrice rounds for display only.
func formatPrice(p session.Price) string {
	if !p.Known() {
		return "-"
	}
	return humanize.FormatFloat("#,###.##", float64(p))
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	catalogPath := fs.String("catalog", "./configs/catalog.json", "catalog export path")
	in := fs.String("in", "", "input selection document")
	out := fs.String("out", "", "output path (.zst compresses; default stdout)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	cat := loadCatalog(*catalogPath)
	doc, err := selection.LoadFile(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read selection:", err)
		os.Exit(1)
	}
	st, warns := selection.Apply(cat, doc)
	for _, w := range warns {
		fmt.Fprintf(os.Stderr, "dropped: %v\n", w)
	}
	clean := selection.Export(st)

	if strings.TrimSpace(*out) == "" {
		b, err := selection.Marshal(clean)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}
	if err := selection.SaveFile(*out, clean); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d recipes)\n", *out, len(clean.Recipes))
}

func recipesCmd(args []string) {
	fs := flag.NewFlagSet("recipes", flag.ExitOnError)
	catalogPath := fs.String("catalog", "./configs/catalog.json", "catalog export path")
	lang := fs.String("lang", "English", "display language")
	skill := fs.String("skill", "", "only recipes requiring this skill")
	_ = fs.Parse(args)

	cat := loadCatalog(*catalogPath)

	ids := cat.RecipeIDs()
	if q := strings.TrimSpace(fs.Arg(0)); q != "" {
		if _, ok := cat.Recipe(catalogs.RecipeID(q)); ok {
			ids = []catalogs.RecipeID{catalogs.RecipeID(q)}
		} else {
			ids = cat.Suggest(q, 5)
			if len(ids) == 0 {
				fmt.Fprintf(os.Stderr, "no recipe matches %q\n", q)
				os.Exit(1)
			}
		}
	}
	if s := strings.TrimSpace(*skill); s != "" {
		ids = cat.RecipesBySkill(catalogs.SkillID(s))
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECIPE\tNAME\tPRODUCT\tSKILLS\tTABLES")
	for _, id := range ids {
		r, _ := cat.Recipe(id)
		var skills, tables []string
		for _, s := range r.Skills {
			skills = append(skills, fmt.Sprintf("%s:%d", s.Skill, s.Level))
		}
		for _, t := range r.Tables {
			tables = append(tables, string(t))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s x%s\t%s\t%s\n",
			id, cat.Name(*lang, string(id)), r.Primary, humanize.Ftoa(r.PrimaryQuantity()),
			strings.Join(skills, ","), strings.Join(tables, ","))
	}
	_ = tw.Flush()
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index/prices.sqlite", "sqlite index path")
	item := fs.String("item", "", "item id (required)")
	recipe := fs.String("recipe", "", "recipe id (optional; default is the effective item price)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	if strings.TrimSpace(*item) == "" {
		fmt.Fprintln(os.Stderr, "missing -item")
		os.Exit(2)
	}
	idx := openIndex(*dbPath)
	defer idx.Close()

	rows, err := idx.PriceHistory(context.Background(), *item, *recipe, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(struct {
			indexdb.PricePoint
			Price *float64 `json:"price"`
		}{r, r.Value()})
	}
}

func passesCmd(args []string) {
	fs := flag.NewFlagSet("passes", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index/prices.sqlite", "sqlite index path")
	sessionID := fs.String("session", "", "session id (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*sessionID) == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}
	idx := openIndex(*dbPath)
	defer idx.Close()

	rows, err := idx.Passes(context.Background(), *sessionID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func openIndex(path string) *indexdb.SQLiteIndex {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

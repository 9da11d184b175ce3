package tuning

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Listen      string `yaml:"listen"`
	CatalogPath string `yaml:"catalog_path"`
	DataDir     string `yaml:"data_dir"`
	Language    string `yaml:"language"`
	DisableDB   bool   `yaml:"disable_db"`

	// LavishFactor scales dynamic ingredient quantities for lavish skills.
	LavishFactor float64 `yaml:"lavish_factor"`

	ComputeCacheTTLSeconds int `yaml:"compute_cache_ttl_seconds"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	EditsPerSecond float64 `yaml:"edits_per_second"`
	EditBurst      int     `yaml:"edit_burst"`
}

func Defaults() Tuning {
	return Tuning{
		Listen:                 ":8080",
		CatalogPath:            "./configs/catalog.json",
		DataDir:                "./data",
		LavishFactor:           0.95,
		ComputeCacheTTLSeconds: 60,
		RateLimits: RateLimits{
			EditsPerSecond: 20,
			EditBurst:      40,
		},
	}
}

// Normalize fills zero or out-of-range fields from Defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	if strings.TrimSpace(t.Listen) == "" {
		t.Listen = d.Listen
	}
	if strings.TrimSpace(t.CatalogPath) == "" {
		t.CatalogPath = d.CatalogPath
	}
	if strings.TrimSpace(t.DataDir) == "" {
		t.DataDir = d.DataDir
	}
	if !(t.LavishFactor > 0 && t.LavishFactor <= 1) {
		t.LavishFactor = d.LavishFactor
	}
	if t.ComputeCacheTTLSeconds <= 0 {
		t.ComputeCacheTTLSeconds = d.ComputeCacheTTLSeconds
	}
	if t.RateLimits.EditsPerSecond <= 0 {
		t.RateLimits.EditsPerSecond = d.RateLimits.EditsPerSecond
	}
	if t.RateLimits.EditBurst <= 0 {
		t.RateLimits.EditBurst = d.RateLimits.EditBurst
	}
}

// Load reads a YAML file over Defaults. Keys absent from the file keep their
// default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("calc.yaml: %w", err)
	}
	t.Normalize()
	return t, nil
}

// ApplyEnv overrides fields from ECOCALC_* environment variables.
func (t *Tuning) ApplyEnv() {
	if v := envString("ECOCALC_LISTEN"); v != "" {
		t.Listen = v
	}
	if v := envString("ECOCALC_CATALOG"); v != "" {
		t.CatalogPath = v
	}
	if v := envString("ECOCALC_DATA_DIR"); v != "" {
		t.DataDir = v
	}
	if v := envString("ECOCALC_LANGUAGE"); v != "" {
		t.Language = v
	}
	t.DisableDB = envBool("ECOCALC_DISABLE_DB", t.DisableDB)
	t.RateLimits.EditsPerSecond = envFloat("ECOCALC_EDITS_PER_SECOND", t.RateLimits.EditsPerSecond)
	t.RateLimits.EditBurst = envInt("ECOCALC_EDIT_BURST", t.RateLimits.EditBurst)
	t.Normalize()
}

func envString(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func envBool(key string, def bool) bool {
	v := envString(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := envString(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := envString(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

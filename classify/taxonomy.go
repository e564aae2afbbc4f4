package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Label is one industry in the taxonomy: a name plus the vocabulary that
// signals it. Phrases are multi-word markers that score double.
type Label struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Phrases  []string `yaml:"phrases,omitempty" json:"phrases,omitempty"`
}

// Taxonomy is the versioned industry label set. Label order is significant:
// score ties resolve to the earliest declared label.
type Taxonomy struct {
	Version string  `yaml:"version" json:"version"`
	Labels  []Label `yaml:"labels" json:"labels"`

	// FallbackLabel is assigned when no label clears MinScore. Default: "other".
	FallbackLabel string `yaml:"fallback_label" json:"fallback_label"`

	// MinScore is the minimum winning score below which the fallback applies.
	// Default: 3.
	MinScore int `yaml:"min_score" json:"min_score"`
}

func (t *Taxonomy) defaults() {
	if t.FallbackLabel == "" {
		t.FallbackLabel = "other"
	}
	if t.MinScore <= 0 {
		t.MinScore = 3
	}
}

// Validate checks the taxonomy is usable: at least one label, no duplicate
// names, no empty keyword lists.
func (t *Taxonomy) Validate() error {
	if len(t.Labels) == 0 {
		return fmt.Errorf("taxonomy: no labels defined")
	}
	seen := make(map[string]bool, len(t.Labels))
	for _, l := range t.Labels {
		name := strings.ToLower(l.Name)
		if name == "" {
			return fmt.Errorf("taxonomy: label with empty name")
		}
		if seen[name] {
			return fmt.Errorf("taxonomy: duplicate label %q", l.Name)
		}
		seen[name] = true
		if len(l.Keywords) == 0 {
			return fmt.Errorf("taxonomy: label %q has no keywords", l.Name)
		}
	}
	return nil
}

// LoadTaxonomy reads a taxonomy from a YAML file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("taxonomy: parse %s: %w", path, err)
	}
	t.defaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultTaxonomy returns the built-in industry label set for annual reports.
func DefaultTaxonomy() *Taxonomy {
	t := &Taxonomy{
		Version: "builtin-1",
		Labels: []Label{
			{
				Name: "airlines",
				Keywords: []string{
					"aircraft", "flights", "passengers", "aviation", "airline", "fleet",
					"load factor", "available seat", "airports", "routes", "cabin crew",
					"boeing", "airbus", "runway", "departure", "arrival",
				},
				Phrases: []string{
					"passenger load factor", "available seat kilometres", "fleet utilization",
				},
			},
			{
				Name: "banking",
				Keywords: []string{
					"deposits", "loans", "branches", "bank", "credit", "capital",
					"tier 1", "basel", "regulatory capital", "net interest margin",
					"mortgages", "savings", "current account", "atm",
				},
				Phrases: []string{
					"net interest margin", "loan loss provisions", "capital adequacy",
				},
			},
			{
				Name: "technology",
				Keywords: []string{
					"software", "saas", "users", "platform", "digital", "cloud",
					"subscription", "app", "api", "data", "analytics", "artificial intelligence",
				},
			},
			{
				Name: "retail",
				Keywords: []string{
					"stores", "retail", "same store sales", "inventory", "merchandise",
					"outlets", "shopping", "consumer", "customers", "sales floor",
					"e-commerce", "online", "mall", "supermarket",
				},
			},
			{
				Name: "energy",
				Keywords: []string{
					"oil", "gas", "petroleum", "barrels", "reserves", "exploration",
					"production", "refining", "energy", "upstream", "downstream",
					"crude", "natural gas", "drilling", "pipeline",
				},
			},
		},
	}
	t.defaults()
	return t
}

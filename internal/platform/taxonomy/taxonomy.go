package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var embeddedTaxonomy []byte

// Term is one selectable facet value.
type Term struct {
	Slug string `yaml:"slug" json:"slug"`
	Name string `yaml:"name" json:"name"`
}

// Taxonomy lists the categories and occasions the storefront filters on.
type Taxonomy struct {
	Categories []Term `yaml:"categories" json:"categories"`
	Occasions  []Term `yaml:"occasions" json:"occasions"`

	categorySlugs map[string]struct{}
	occasionSlugs map[string]struct{}
}

// Load reads the taxonomy from path, falling back to the embedded default
// when path is empty.
func Load(path string) (*Taxonomy, error) {
	raw := embeddedTaxonomy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
		}
		raw = data
	}
	return parse(raw)
}

func parse(raw []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("taxonomy: decode: %w", err)
	}
	t.categorySlugs = make(map[string]struct{}, len(t.Categories))
	for i, term := range t.Categories {
		slug := strings.ToLower(strings.TrimSpace(term.Slug))
		if slug == "" {
			return nil, fmt.Errorf("taxonomy: category %d has an empty slug", i)
		}
		if _, ok := t.categorySlugs[slug]; ok {
			return nil, fmt.Errorf("taxonomy: duplicate category slug %q", slug)
		}
		t.Categories[i].Slug = slug
		t.categorySlugs[slug] = struct{}{}
	}
	t.occasionSlugs = make(map[string]struct{}, len(t.Occasions))
	for i, term := range t.Occasions {
		slug := strings.ToLower(strings.TrimSpace(term.Slug))
		if slug == "" {
			return nil, fmt.Errorf("taxonomy: occasion %d has an empty slug", i)
		}
		if _, ok := t.occasionSlugs[slug]; ok {
			return nil, fmt.Errorf("taxonomy: duplicate occasion slug %q", slug)
		}
		t.Occasions[i].Slug = slug
		t.occasionSlugs[slug] = struct{}{}
	}
	return &t, nil
}

// ValidCategory reports whether slug names a known category.
func (t *Taxonomy) ValidCategory(slug string) bool {
	_, ok := t.categorySlugs[strings.ToLower(strings.TrimSpace(slug))]
	return ok
}

// ValidOccasion reports whether slug names a known occasion.
func (t *Taxonomy) ValidOccasion(slug string) bool {
	_, ok := t.occasionSlugs[strings.ToLower(strings.TrimSpace(slug))]
	return ok
}

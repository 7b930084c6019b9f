// Package poi resolves amenity categories to point features and caches them
// for the lifetime of one analysis run.
package poi

import (
	_ "embed"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/distance-finder/internal/model"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Category is one amenity type users can filter by.
type Category struct {
	Name       string            `yaml:"name" json:"name"`
	Tags       map[string]string `yaml:"tags" json:"tags"`
	PlaceTypes []string          `yaml:"place_types" json:"place_types,omitempty"`
}

// Key is the cache key for the category.
func (c Category) Key() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

// TagKeys returns the OSM tag keys in sorted order.
func (c Category) TagKeys() []string {
	keys := make([]string, 0, len(c.Tags))
	for k := range c.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Catalog is an ordered, case-insensitive set of categories.
type Catalog struct {
	order []Category
	byKey map[string]Category
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Categories []Category `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "poi: parse catalog")
	}
	c := &Catalog{byKey: make(map[string]Category, len(doc.Categories))}
	for _, cat := range doc.Categories {
		if cat.Key() == "" {
			return nil, eris.New("poi: catalog entry without a name")
		}
		if len(cat.Tags) == 0 {
			return nil, eris.Errorf("poi: catalog entry %q has no tags", cat.Name)
		}
		if _, dup := c.byKey[cat.Key()]; dup {
			return nil, eris.Errorf("poi: duplicate catalog entry %q", cat.Name)
		}
		c.byKey[cat.Key()] = cat
		c.order = append(c.order, cat)
	}
	return c, nil
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
})

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := defaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup finds a category by name, ignoring case.
func (c *Catalog) Lookup(name string) (Category, bool) {
	cat, ok := c.byKey[strings.ToLower(strings.TrimSpace(name))]
	return cat, ok
}

// Resolve is Lookup that returns a validation error for unknown names.
func (c *Catalog) Resolve(name string) (Category, error) {
	cat, ok := c.Lookup(name)
	if !ok {
		return Category{}, model.Invalidf("unknown amenity category %q", name)
	}
	return cat, nil
}

// All returns the categories in catalog order.
func (c *Catalog) All() []Category {
	out := make([]Category, len(c.order))
	copy(out, c.order)
	return out
}

package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Mode is how a criterion's value is measured.
type Mode string

const (
	ModeDistance Mode = "distance" // Straight-line miles
	ModeWalk     Mode = "walk"     // Minutes on foot
	ModeBike     Mode = "bike"     // Minutes by bicycle
	ModeDrive    Mode = "drive"    // Minutes by car
)

// ParseMode normalizes a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDistance, ModeWalk, ModeBike, ModeDrive:
		return m, nil
	case "":
		return ModeDistance, nil
	default:
		return "", eris.Errorf("model: unknown travel mode %q", s)
	}
}

// IsTravelTime reports whether values in this mode are minutes.
func (m Mode) IsTravelTime() bool {
	return m == ModeWalk || m == ModeBike || m == ModeDrive
}

// Rank orders modes by assumed restrictiveness and cost.
func (m Mode) Rank() int {
	switch m {
	case ModeDistance:
		return 0
	case ModeWalk:
		return 1
	case ModeBike:
		return 2
	case ModeDrive:
		return 3
	default:
		return 4
	}
}

// CriterionKind tags the Criterion variant.
type CriterionKind string

const (
	KindAmenity  CriterionKind = "poi"
	KindLocation CriterionKind = "location"
)

// Criterion is one proximity constraint. It is treated as immutable once
// submitted to a run.
type Criterion struct {
	Kind     CriterionKind `json:"type"`
	Category string        `json:"poi_type,omitempty"`
	Location string        `json:"location,omitempty"`
	Mode     Mode          `json:"mode"`
	Value    float64       `json:"value"`
}

// ByAmenityCategory builds a criterion referencing an amenity category.
func ByAmenityCategory(category string, mode Mode, value float64) Criterion {
	return Criterion{Kind: KindAmenity, Category: category, Mode: mode, Value: value}
}

// ByNamedLocation builds a criterion referencing a geocodable place.
func ByNamedLocation(text string, mode Mode, value float64) Criterion {
	return Criterion{Kind: KindLocation, Location: text, Mode: mode, Value: value}
}

// Validate checks the criterion's shape. It does not check that the category
// exists in the catalog.
func (c Criterion) Validate() error {
	switch c.Kind {
	case KindAmenity:
		if strings.TrimSpace(c.Category) == "" {
			return eris.New("model: amenity criterion requires a category")
		}
	case KindLocation:
		if strings.TrimSpace(c.Location) == "" {
			return eris.New("model: location criterion requires a location")
		}
	default:
		return eris.Errorf("model: unknown criterion type %q", c.Kind)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) || c.Value <= 0 {
		return eris.Errorf("model: criterion value must be positive, got %v", c.Value)
	}
	return nil
}

// Normalized returns the criterion with its mode in canonical form, so an
// omitted mode becomes distance and "Walk" becomes walk. Unknown modes are
// left as given for Validate to report.
func (c Criterion) Normalized() Criterion {
	if m, err := ParseMode(string(c.Mode)); err == nil {
		c.Mode = m
	}
	return c
}

// Name is the short label shown next to the criterion's result.
func (c Criterion) Name() string {
	if c.Kind == KindLocation {
		if r := []rune(c.Location); len(r) > 30 {
			return string(r[:30])
		}
		return c.Location
	}
	return c.Category
}

// Subject is the category or location text the criterion refers to.
func (c Criterion) Subject() string {
	if c.Kind == KindLocation {
		return c.Location
	}
	return c.Category
}

// Describe renders the constraint in words, e.g. "walk: 10 min".
func (c Criterion) Describe() string {
	if c.Mode.IsTravelTime() {
		return fmt.Sprintf("%s: %s min", c.Mode, trimFloat(c.Value))
	}
	return fmt.Sprintf("Within %s miles (straight-line)", trimFloat(c.Value))
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// AppliedCriterionResult is one audit-trail entry. Index is the submission
// position; Position is the 0-based execution step.
type AppliedCriterionResult struct {
	Index       int     `json:"index"`
	Position    int     `json:"position"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	AreaSqMiles float64 `json:"area_sq_miles"`
	Approximate bool    `json:"is_approximate"`
	POICount    int     `json:"poi_count,omitempty"`
	Note        string  `json:"note,omitempty"`
}

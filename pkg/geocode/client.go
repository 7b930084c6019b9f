// Package geocode resolves free-text places ("Durham, NC", "123 Main St")
// to coordinates through a cascade of providers: Nominatim by default and
// Google when a key is configured.
package geocode

import (
	"context"
	"strings"
)

// Result holds the geocoding output for a query.
type Result struct {
	Query       string  `json:"query"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
	Source      string  `json:"source"`  // "nominatim" or "google"
	Quality     string  `json:"quality"` // "rooftop", "range", "centroid", "approximate"
	Matched     bool    `json:"matched"`
}

// Provider is a single geocoding backend. An unmatched query is a Result
// with Matched=false, not an error; errors are transport or API failures.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, text string) (*Result, error)
	Available() bool
}

// usSuffixes are appended, in order, to comma-free text that did not match.
var usSuffixes = []string{", USA", ", United States", ", US"}

// candidates lists the texts tried for a query.
func candidates(text string, suffixes bool) []string {
	out := []string{text}
	if suffixes && !strings.Contains(text, ",") {
		for _, s := range usSuffixes {
			out = append(out, text+s)
		}
	}
	return out
}

// normalize trims and collapses whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

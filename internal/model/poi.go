package model

// POIFeature is a point of interest returned by the POI data source.
type POIFeature struct {
	ID           string  `json:"id"`
	Category     string  `json:"poi_type"`
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Address      string  `json:"address,omitempty"`
	OpeningHours string  `json:"opening_hours,omitempty"`
	Phone        string  `json:"phone,omitempty"`
	Website      string  `json:"website,omitempty"`
}

// PremiumLocation is a rated business found by the enrichment sampler.
type PremiumLocation struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Address     string   `json:"address,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"num_reviews,omitempty"`
	PriceLevel  string   `json:"price_level,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// DirectoryQuery is one business-directory search around a point.
type DirectoryQuery struct {
	Lat         float64
	Lon         float64
	RadiusMiles float64
	Category    string
	Subcategory string
	PlaceTypes  []string
	MaxResults  int
}

// Usage is a directory's quota for the current month.
type Usage struct {
	Month string `json:"month"`
	Limit int    `json:"limit"`
	Used  int    `json:"used"`
}

// Remaining is the number of calls left, never negative.
func (u Usage) Remaining() int {
	if r := u.Limit - u.Used; r > 0 {
		return r
	}
	return 0
}

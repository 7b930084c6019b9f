package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/distance-finder/internal/analysis"
	"github.com/sells-group/distance-finder/internal/enrich"
	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/poi"
)

const maxBodyBytes = 1 << 20

// AnalyzeRequest is the body of POST /api/v1/analyze. Either Center or both
// coordinates must be given.
type AnalyzeRequest struct {
	Center      string            `json:"center"`
	CenterLat   *float64          `json:"center_lat,omitempty"`
	CenterLon   *float64          `json:"center_lon,omitempty"`
	RadiusMiles *float64          `json:"radius_miles,omitempty"`
	Criteria    []model.Criterion `json:"criteria"`
	Explore     string            `json:"explore,omitempty"`
}

// CriterionSummary is one step of the audit trail as the API reports it.
type CriterionSummary struct {
	Index       int     `json:"index"`
	Step        int     `json:"execution_step"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	AreaSqMiles float64 `json:"area_sq_miles"`
	Approximate bool    `json:"is_approximate"`
	POICount    int     `json:"poi_count,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// AnalyzeResponse is the body returned by a successful analysis.
type AnalyzeResponse struct {
	Success            bool               `json:"success"`
	RunID              string             `json:"run_id"`
	Center             string             `json:"center"`
	CenterLat          float64            `json:"center_lat"`
	CenterLon          float64            `json:"center_lon"`
	RadiusMiles        float64            `json:"radius_miles"`
	InitialAreaSqMiles float64            `json:"initial_area_sq_miles"`
	FinalAreaSqMiles   float64            `json:"final_area_sq_miles"`
	ReductionPercent   float64            `json:"area_reduction_percent"`
	CriteriaApplied    []CriterionSummary `json:"criteria_applied"`
	ExecutionOrder     []int              `json:"execution_order"`
	Approximate        bool               `json:"is_approximate"`
	POIStats           poi.Stats          `json:"poi_cache"`
	Places             []model.POIFeature `json:"places,omitempty"`
	GeoJSON            *geojson.Feature   `json:"geojson"`
}

// POIRequest is the body of POST /api/v1/pois.
type POIRequest struct {
	Polygon json.RawMessage `json:"polygon"`
	POIType string          `json:"poi_type"`
}

// POIResponse lists the POIs found inside a polygon.
type POIResponse struct {
	Success    bool                       `json:"success"`
	POIType    string                     `json:"poi_type"`
	TotalFound int                        `json:"total_found"`
	POIs       []model.POIFeature         `json:"pois"`
	GeoJSON    *geojson.FeatureCollection `json:"geojson"`
}

// PremiumRequest is the body of POST /api/v1/premium.
type PremiumRequest struct {
	GeoJSON      json.RawMessage `json:"geojson"`
	Category     string          `json:"category"`
	Subcategory  string          `json:"subcategory,omitempty"`
	MaxLocations int             `json:"max_locations,omitempty"`
}

// PremiumResponse wraps a sampling result.
type PremiumResponse struct {
	Success     bool   `json:"success"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	*enrich.Result
	GeoJSON *geojson.FeatureCollection `json:"geojson"`
}

// POITypesResponse lists the amenity catalog.
type POITypesResponse struct {
	POITypes []poi.Category `json:"poi_types"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.Invalidf("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "healthy"}
	if s.breakers != nil {
		body["breakers"] = s.breakers.States()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePOITypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, POITypesResponse{POITypes: s.pipeline.Catalog().All()})
}

func (s *Server) handleValidateLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(strings.TrimSpace(q)) < 2 {
		writeError(w, model.Invalidf("q must be at least 2 characters"))
		return
	}
	if s.validator == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "geocoding disabled"})
		return
	}
	v, err := s.validator.Validate(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	req := analysis.Request{
		Address:     strings.TrimSpace(body.Center),
		RadiusMiles: DefaultRadiusMiles,
		Criteria:    body.Criteria,
		Explore:     body.Explore,
	}
	if body.RadiusMiles != nil {
		req.RadiusMiles = *body.RadiusMiles
	}
	if body.CenterLat != nil || body.CenterLon != nil {
		if body.CenterLat == nil || body.CenterLon == nil {
			writeError(w, model.Invalidf("center_lat and center_lon must be given together"))
			return
		}
		req.Center = &geometry.Point{Lat: *body.CenterLat, Lon: *body.CenterLon}
	}

	res, err := s.pipeline.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := NewAnalyzeResponse(req, res)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// NewAnalyzeResponse renders a pipeline result, with the final region as a
// GeoJSON feature.
func NewAnalyzeResponse(req analysis.Request, res *analysis.Result) (*AnalyzeResponse, error) {
	center := res.DisplayName
	if center == "" {
		center = req.Address
	}
	out := &AnalyzeResponse{
		Success:            true,
		RunID:              res.RunID,
		Center:             center,
		CenterLat:          res.Center.Lat,
		CenterLon:          res.Center.Lon,
		RadiusMiles:        res.RadiusMiles,
		InitialAreaSqMiles: res.InitialAreaSqMiles,
		FinalAreaSqMiles:   res.FinalAreaSqMiles,
		ReductionPercent:   res.ReductionPercent,
		CriteriaApplied:    make([]CriterionSummary, 0, len(res.Applied)),
		ExecutionOrder:     res.ExecutionOrder,
		Approximate:        res.Approximate,
		POIStats:           res.POIStats,
		Places:             res.Places,
	}
	// Audit trail in submission order; ExecutionOrder carries the other one.
	for _, a := range res.Applied {
		out.CriteriaApplied = append(out.CriteriaApplied, CriterionSummary{
			Index:       a.Index,
			Step:        a.Position + 1,
			Name:        a.Name,
			Description: a.Description,
			AreaSqMiles: a.AreaSqMiles,
			Approximate: a.Approximate,
			POICount:    a.POICount,
			Note:        a.Note,
		})
	}

	f, err := res.Region.Feature(map[string]any{
		"run_id":        res.RunID,
		"area_sq_miles": res.FinalAreaSqMiles,
	})
	if err != nil {
		return nil, err
	}
	out.GeoJSON = f
	return out, nil
}

func (s *Server) handlePOIs(w http.ResponseWriter, r *http.Request) {
	var body POIRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body.Polygon) == 0 {
		writeError(w, model.Invalidf("polygon is required"))
		return
	}
	region, err := geometry.DecodeGeoJSON(body.Polygon)
	if err != nil {
		writeError(w, geoInputError("polygon", err))
		return
	}

	pois, err := s.pipeline.PlacesWithin(r.Context(), region, body.POIType)
	if err != nil {
		writeError(w, err)
		return
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(pois))}
	for _, p := range pois {
		fc.Features = append(fc.Features, pointFeature(p.Lat, p.Lon, map[string]any{
			"id":       p.ID,
			"name":     p.Name,
			"poi_type": p.Category,
		}))
	}
	writeJSON(w, http.StatusOK, POIResponse{
		Success:    true,
		POIType:    body.POIType,
		TotalFound: len(pois),
		POIs:       pois,
		GeoJSON:    fc,
	})
}

func (s *Server) handlePremium(w http.ResponseWriter, r *http.Request) {
	if s.sampler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "premium search disabled"})
		return
	}
	var body PremiumRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body.GeoJSON) == 0 {
		writeError(w, model.Invalidf("geojson is required"))
		return
	}
	if body.MaxLocations < 0 || body.MaxLocations > 100 {
		writeError(w, model.Invalidf("max_locations must be at most 100"))
		return
	}
	region, err := geometry.DecodeGeoJSON(body.GeoJSON)
	if err != nil {
		writeError(w, geoInputError("geojson", err))
		return
	}

	res, err := s.sampler.Sample(r.Context(), enrich.Request{
		Region:       region,
		Category:     body.Category,
		Subcategory:  body.Subcategory,
		MaxLocations: body.MaxLocations,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(res.Locations))}
	for _, loc := range res.Locations {
		props := map[string]any{
			"id":       loc.ID,
			"name":     loc.Name,
			"category": loc.Category,
		}
		if loc.Rating != nil {
			props["rating"] = *loc.Rating
		}
		fc.Features = append(fc.Features, pointFeature(loc.Lat, loc.Lon, props))
	}
	writeJSON(w, http.StatusOK, PremiumResponse{
		Success:     true,
		Category:    body.Category,
		Subcategory: body.Subcategory,
		Result:      res,
		GeoJSON:     fc,
	})
}

func pointFeature(lat, lon float64, props map[string]any) *geojson.Feature {
	return &geojson.Feature{
		Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
		Properties: props,
	}
}

package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/poi"
)

// Run is the state of one analysis. It is owned by a single Analyze call and
// discarded with it.
type Run struct {
	ID       string
	Center   geometry.Point
	Criteria []model.Criterion
	Order    []int
	History  []geometry.Region
	Cache    *poi.Cache

	proj       geometry.Projection
	categories map[int]poi.Category
	applied    []model.AppliedCriterionResult
	started    time.Time
}

func newRun(center geometry.Point, proj geometry.Projection, criteria []model.Criterion, cache *poi.Cache) *Run {
	return &Run{
		ID:         uuid.New().String(),
		Center:     center,
		Criteria:   criteria,
		Cache:      cache,
		proj:       proj,
		categories: make(map[int]poi.Category),
		applied:    make([]model.AppliedCriterionResult, len(criteria)),
		started:    time.Now(),
	}
}

// Current is the latest region in the history.
func (r *Run) Current() geometry.Region {
	return r.History[len(r.History)-1]
}

// Result is what an analysis returns to callers.
type Result struct {
	RunID              string                         `json:"run_id"`
	Center             geometry.Point                 `json:"center"`
	DisplayName        string                         `json:"display_name,omitempty"`
	RadiusMiles        float64                        `json:"radius_miles"`
	InitialAreaSqMiles float64                        `json:"initial_area_sq_miles"`
	FinalAreaSqMiles   float64                        `json:"final_area_sq_miles"`
	ReductionPercent   float64                        `json:"area_reduction_percent"`
	Applied            []model.AppliedCriterionResult `json:"applied_criteria"`
	ExecutionOrder     []int                          `json:"execution_order"`
	Approximate        bool                           `json:"is_approximate"`
	POIStats           poi.Stats                      `json:"poi_cache"`
	Places             []model.POIFeature             `json:"places,omitempty"`
	Elapsed            time.Duration                  `json:"-"`

	Region  geometry.Region   `json:"-"`
	History []geometry.Region `json:"-"`
}

// ReductionPercent is (1 - final/initial) * 100, or 0 for an empty initial area.
func ReductionPercent(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (1 - final/initial) * 100
}

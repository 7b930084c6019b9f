// Package enrich searches a business directory inside a filtered region
// without exceeding a fixed call budget.
package enrich

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/poi"
)

// MaxCentroids is the hard cap on directory calls per request. Regions with
// more parts than this are only partly covered.
const MaxCentroids = 5

// Directory is a paid business search with a monthly quota. Search returns
// model.ErrQuotaExceeded when the provider refuses for quota reasons.
type Directory interface {
	Search(ctx context.Context, q model.DirectoryQuery) ([]model.PremiumLocation, error)
	Usage(ctx context.Context) (model.Usage, error)
}

// Config tunes sampling.
type Config struct {
	GridThresholdSqMiles float64
	MinRadiusMiles       float64
	MaxRadiusMiles       float64
	CallTimeout          time.Duration
	DefaultMaxLocations  int
}

// DefaultConfig returns the built-in sampling parameters.
func DefaultConfig() Config {
	return Config{
		GridThresholdSqMiles: 10,
		MinRadiusMiles:       0.25,
		MaxRadiusMiles:       10,
		CallTimeout:          15 * time.Second,
		DefaultMaxLocations:  20,
	}
}

// Request asks for up to MaxLocations businesses inside Region.
type Request struct {
	Region       geometry.Region
	Category     string
	Subcategory  string
	MaxLocations int
}

// Result is what a sampling pass found.
type Result struct {
	Locations         []model.PremiumLocation `json:"locations"`
	CentroidsSearched int                     `json:"centroids_searched"`
	APICallsUsed      int                     `json:"api_calls_used"`
	QuotaExceeded     bool                    `json:"quota_exceeded"`
	Usage             model.Usage             `json:"usage"`
}

// Sample is one directory query point.
type Sample struct {
	Point       geometry.Point
	RadiusMiles float64
}

// Sampler runs enrichment searches.
type Sampler struct {
	dir     Directory
	cfg     Config
	catalog *poi.Catalog
}

// NewSampler creates a Sampler. A nil catalog uses the embedded one.
func NewSampler(dir Directory, cfg Config, catalog *poi.Catalog) *Sampler {
	def := DefaultConfig()
	if cfg.GridThresholdSqMiles <= 0 {
		cfg.GridThresholdSqMiles = def.GridThresholdSqMiles
	}
	if cfg.MinRadiusMiles <= 0 {
		cfg.MinRadiusMiles = def.MinRadiusMiles
	}
	if cfg.MaxRadiusMiles < cfg.MinRadiusMiles {
		cfg.MaxRadiusMiles = def.MaxRadiusMiles
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.DefaultMaxLocations <= 0 {
		cfg.DefaultMaxLocations = def.DefaultMaxLocations
	}
	if catalog == nil {
		catalog = poi.DefaultCatalog()
	}
	return &Sampler{dir: dir, cfg: cfg, catalog: catalog}
}

// Samples picks at most MaxCentroids query points for a region: the interior
// point of each of the largest parts, or for one large part its interior
// point plus a 3x3 grid.
func (s *Sampler) Samples(region geometry.Region) ([]Sample, error) {
	parts := geometry.Parts(region)
	if len(parts) == 0 {
		return nil, nil
	}

	if len(parts) == 1 && geometry.AreaSqMiles(parts[0]) > s.cfg.GridThresholdSqMiles {
		return s.gridSamples(parts[0])
	}

	var out []Sample
	for _, part := range parts {
		if len(out) == MaxCentroids {
			break
		}
		pt, err := geometry.InteriorPoint(part)
		if err != nil {
			return nil, err
		}
		r, err := geometry.HullRadiusMiles(part, pt)
		if err != nil {
			return nil, err
		}
		out = append(out, Sample{Point: pt, RadiusMiles: s.clamp(r)})
	}
	return out, nil
}

// gridOrder visits corners before edges so a capped grid still spreads out.
var gridOrder = []int{0, 2, 6, 8, 4, 1, 3, 5, 7}

func (s *Sampler) gridSamples(part geometry.Region) ([]Sample, error) {
	center, err := geometry.InteriorPoint(part)
	if err != nil {
		return nil, err
	}
	b, _ := part.Bounds()
	cellDiag := math.Hypot((b.MaxX-b.MinX)/3, (b.MaxY-b.MinY)/3) / geometry.MetersPerMile
	cellRadius := s.clamp(cellDiag / 2)

	centerRadius, err := geometry.HullRadiusMiles(part, center)
	if err != nil {
		return nil, err
	}
	out := []Sample{{Point: center, RadiusMiles: s.clamp(centerRadius)}}

	proj := part.Projection()
	for _, i := range gridOrder {
		if len(out) == MaxCentroids {
			break
		}
		row, col := i/3, i%3
		pt := proj.Inverse(geometry.XY{
			X: b.MinX + (float64(col)+0.5)*(b.MaxX-b.MinX)/3,
			Y: b.MinY + (float64(row)+0.5)*(b.MaxY-b.MinY)/3,
		})
		if !geometry.ContainsPoint(part, pt) || geometry.DistanceMiles(pt, center) < 1e-6 {
			continue
		}
		out = append(out, Sample{Point: pt, RadiusMiles: cellRadius})
	}
	return out, nil
}

func (s *Sampler) clamp(r float64) float64 {
	return math.Max(s.cfg.MinRadiusMiles, math.Min(s.cfg.MaxRadiusMiles, r))
}

// Sample searches the directory around each sample point, keeps only
// businesses inside the region and drops duplicates. Running out of quota
// is reported in the result, not as an error.
func (s *Sampler) Sample(ctx context.Context, req Request) (*Result, error) {
	cat, err := s.catalog.Resolve(req.Category)
	if err != nil {
		return nil, err
	}
	types := cat.PlaceTypes
	if req.Subcategory != "" {
		if sub, ok := s.catalog.Lookup(req.Subcategory); ok && len(sub.PlaceTypes) > 0 {
			types = sub.PlaceTypes
		}
	}
	maxLocations := req.MaxLocations
	if maxLocations <= 0 {
		maxLocations = s.cfg.DefaultMaxLocations
	}

	res := &Result{Locations: []model.PremiumLocation{}}
	samples, err := s.Samples(req.Region)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return res, nil
	}

	usage, err := s.dir.Usage(ctx)
	if err != nil {
		return nil, &model.DataSourceError{Source: "directory", Category: cat.Name, Err: err}
	}
	res.Usage = usage
	budget := usage.Remaining()

	seen := make(map[string]bool)
	for _, smp := range samples {
		if len(res.Locations) >= maxLocations {
			break
		}
		if res.APICallsUsed >= budget {
			res.QuotaExceeded = true
			break
		}

		res.APICallsUsed++
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		found, err := s.dir.Search(callCtx, model.DirectoryQuery{
			Lat:         smp.Point.Lat,
			Lon:         smp.Point.Lon,
			RadiusMiles: smp.RadiusMiles,
			Category:    cat.Name,
			Subcategory: req.Subcategory,
			PlaceTypes:  types,
			MaxResults:  maxLocations,
		})
		cancel()
		if errors.Is(err, model.ErrQuotaExceeded) {
			res.QuotaExceeded = true
			break
		}
		if err != nil {
			return nil, &model.DataSourceError{Source: "directory", Category: cat.Name, Err: err}
		}
		res.CentroidsSearched++

		for _, loc := range found {
			if seen[loc.ID] || !geometry.ContainsPoint(req.Region, geometry.Point{Lat: loc.Lat, Lon: loc.Lon}) {
				continue
			}
			seen[loc.ID] = true
			res.Locations = append(res.Locations, loc)
			if len(res.Locations) >= maxLocations {
				break
			}
		}
	}
	res.Usage.Used += res.APICallsUsed

	zap.L().Info("enrich: sampling complete",
		zap.String("category", cat.Name),
		zap.Int("samples", len(samples)),
		zap.Int("centroids_searched", res.CentroidsSearched),
		zap.Int("api_calls_used", res.APICallsUsed),
		zap.Int("locations", len(res.Locations)),
		zap.Bool("quota_exceeded", res.QuotaExceeded),
	)
	return res, nil
}

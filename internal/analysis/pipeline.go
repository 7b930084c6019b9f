// Package analysis narrows a circular search region by applying proximity
// criteria one after another.
package analysis

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/poi"
	"github.com/sells-group/distance-finder/internal/reach"
	"github.com/sells-group/distance-finder/pkg/geocode"
)

// NoPlacesNote marks a category criterion whose query returned nothing.
const NoPlacesNote = "no matching places found"

// Geocoder resolves free text to coordinates. Unmatched text must yield
// model.ErrGeocodeNotFound.
type Geocoder interface {
	Locate(ctx context.Context, text string) (*geocode.Result, error)
}

// Config bounds a run.
type Config struct {
	MinRadiusMiles      float64
	MaxRadiusMiles      float64
	MaxCriteria         int
	MaxIsochrones       int
	ReachConcurrency    int
	PrefetchConcurrency int
	POITimeout          time.Duration
}

// DefaultConfig returns the built-in limits.
func DefaultConfig() Config {
	return Config{
		MinRadiusMiles:      1,
		MaxRadiusMiles:      25,
		MaxCriteria:         8,
		MaxIsochrones:       50,
		ReachConcurrency:    8,
		PrefetchConcurrency: 4,
		POITimeout:          30 * time.Second,
	}
}

// Request is one analysis.
type Request struct {
	// Address is geocoded unless Center is set.
	Address     string
	Center      *geometry.Point
	RadiusMiles float64
	Criteria    []model.Criterion
	// Explore, when set, lists that category's places inside the final region.
	Explore string
}

// Pipeline runs analyses. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	cfg       Config
	geocoder  Geocoder
	source    poi.Source
	estimator *reach.Estimator
	catalog   *poi.Catalog
	order     OrderStrategy
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCatalog replaces the embedded amenity catalog.
func WithCatalog(c *poi.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithOrder replaces the ordering heuristic.
func WithOrder(o OrderStrategy) Option {
	return func(p *Pipeline) { p.order = o }
}

// New creates a Pipeline.
func New(cfg Config, geocoder Geocoder, source poi.Source, estimator *reach.Estimator, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.MinRadiusMiles <= 0 {
		cfg.MinRadiusMiles = def.MinRadiusMiles
	}
	if cfg.MaxRadiusMiles <= 0 {
		cfg.MaxRadiusMiles = def.MaxRadiusMiles
	}
	if cfg.MaxCriteria <= 0 {
		cfg.MaxCriteria = def.MaxCriteria
	}
	if cfg.MaxIsochrones <= 0 {
		cfg.MaxIsochrones = def.MaxIsochrones
	}
	if cfg.ReachConcurrency <= 0 {
		cfg.ReachConcurrency = def.ReachConcurrency
	}
	if cfg.PrefetchConcurrency <= 0 {
		cfg.PrefetchConcurrency = def.PrefetchConcurrency
	}
	if cfg.POITimeout <= 0 {
		cfg.POITimeout = def.POITimeout
	}
	p := &Pipeline{
		cfg:       cfg,
		geocoder:  geocoder,
		source:    source,
		estimator: estimator,
		catalog:   poi.DefaultCatalog(),
		order:     RestrictiveFirst,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Catalog returns the amenity catalog in use.
func (p *Pipeline) Catalog() *poi.Catalog {
	return p.catalog
}

// Validate checks a request without touching any collaborator.
func (p *Pipeline) Validate(req Request) error {
	if req.Center == nil && req.Address == "" {
		return model.Invalidf("address is required")
	}
	if req.Center != nil {
		if err := req.Center.Validate(); err != nil {
			return model.Invalidf("invalid center: %v", err)
		}
	}
	r := req.RadiusMiles
	if math.IsNaN(r) || r < p.cfg.MinRadiusMiles || r > p.cfg.MaxRadiusMiles {
		return model.Invalidf("radius must be between %g and %g miles", p.cfg.MinRadiusMiles, p.cfg.MaxRadiusMiles)
	}
	if len(req.Criteria) > p.cfg.MaxCriteria {
		return model.Invalidf("at most %d criteria are allowed", p.cfg.MaxCriteria)
	}
	for i, c := range req.Criteria {
		if err := c.Validate(); err != nil {
			return model.Invalidf("criterion %d: %v", i+1, err)
		}
		if c.Kind == model.KindAmenity {
			if _, err := p.catalog.Resolve(c.Category); err != nil {
				return model.Invalidf("criterion %d: %v", i+1, err)
			}
		}
	}
	if req.Explore != "" {
		if _, err := p.catalog.Resolve(req.Explore); err != nil {
			return err
		}
	}
	return nil
}

// Analyze runs the full pipeline. Any fatal failure returns a nil result.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := p.Validate(req); err != nil {
		return nil, err
	}
	criteria := make([]model.Criterion, len(req.Criteria))
	for i, c := range req.Criteria {
		criteria[i] = c.Normalized()
	}
	req.Criteria = criteria

	center, display, err := p.resolveCenter(ctx, req)
	if err != nil {
		return nil, err
	}
	proj, err := geometry.NewProjection(center)
	if err != nil {
		return nil, err
	}
	initial, err := geometry.BufferDistance(proj, center, req.RadiusMiles)
	if err != nil {
		return nil, err
	}

	cache := poi.NewCache(p.source, poi.Boundary{Center: center, RadiusMiles: req.RadiusMiles}, p.cfg.POITimeout)
	run := newRun(center, proj, req.Criteria, cache)
	run.History = append(run.History, initial)

	var cats []poi.Category
	for i, c := range req.Criteria {
		if c.Kind != model.KindAmenity {
			continue
		}
		cat, _ := p.catalog.Lookup(c.Category)
		run.categories[i] = cat
		cache.Expand(cat, p.estimator.MaxReachMiles(c.Mode, c.Value))
		cats = append(cats, cat)
	}

	run.Order = p.order(req.Criteria)
	if err := checkPermutation(run.Order, len(req.Criteria)); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("analysis: started",
		zap.Float64("lat", center.Lat),
		zap.Float64("lon", center.Lon),
		zap.Float64("radius_miles", req.RadiusMiles),
		zap.Int("criteria", len(req.Criteria)),
	)

	ctx, cancel := context.WithCancel(ctx)
	wait := cache.Prefetch(ctx, cats, p.cfg.PrefetchConcurrency)
	defer func() {
		cancel()
		wait()
	}()

	for pos, idx := range run.Order {
		c := req.Criteria[idx]
		contribution, applied, err := p.apply(ctx, run, idx)
		if err != nil {
			log.Warn("analysis: criterion failed", zap.Int("index", idx), zap.Error(err))
			return nil, &model.CriterionError{Index: idx, Criterion: c, Err: err}
		}
		next := geometry.Intersect(run.Current(), contribution)
		run.History = append(run.History, next)

		applied.Index = idx
		applied.Position = pos
		applied.Name = c.Name()
		applied.Description = c.Describe()
		applied.AreaSqMiles = geometry.AreaSqMiles(next)
		run.applied[idx] = applied

		log.Debug("analysis: criterion applied",
			zap.Int("position", pos),
			zap.String("criterion", applied.Name),
			zap.Float64("area_sq_miles", applied.AreaSqMiles),
			zap.Bool("approximate", applied.Approximate),
		)
	}

	res := p.result(run, display, req.RadiusMiles)
	if req.Explore != "" {
		cat, _ := p.catalog.Lookup(req.Explore)
		places, err := cache.Within(ctx, run.Current(), cat)
		if err != nil {
			return nil, err
		}
		res.Places = places
	}
	res.POIStats = cache.Stats()

	log.Info("analysis: complete",
		zap.Float64("initial_area_sq_miles", res.InitialAreaSqMiles),
		zap.Float64("final_area_sq_miles", res.FinalAreaSqMiles),
		zap.Float64("reduction_percent", res.ReductionPercent),
		zap.Int64("poi_queries", res.POIStats.Queries),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (p *Pipeline) resolveCenter(ctx context.Context, req Request) (geometry.Point, string, error) {
	if req.Center != nil {
		return *req.Center, req.Address, nil
	}
	g, err := p.geocoder.Locate(ctx, req.Address)
	if err != nil {
		return geometry.Point{}, "", eris.Wrapf(err, "analysis: locate %q", req.Address)
	}
	return geometry.Point{Lat: g.Latitude, Lon: g.Longitude}, g.DisplayName, nil
}

func (p *Pipeline) apply(ctx context.Context, run *Run, idx int) (geometry.Region, model.AppliedCriterionResult, error) {
	c := run.Criteria[idx]
	if c.Kind == model.KindLocation {
		return p.applyLocation(ctx, run, c)
	}
	return p.applyAmenity(ctx, run, idx)
}

func (p *Pipeline) applyLocation(ctx context.Context, run *Run, c model.Criterion) (geometry.Region, model.AppliedCriterionResult, error) {
	var applied model.AppliedCriterionResult
	g, err := p.geocoder.Locate(ctx, c.Location)
	if err != nil {
		return geometry.Region{}, applied, err
	}
	est, err := p.estimator.Estimate(ctx, run.proj, geometry.Point{Lat: g.Latitude, Lon: g.Longitude}, c.Mode, c.Value)
	if err != nil {
		return geometry.Region{}, applied, err
	}
	applied.Approximate = est.Approximate
	applied.Note = est.Reason
	return est.Region, applied, nil
}

func (p *Pipeline) applyAmenity(ctx context.Context, run *Run, idx int) (geometry.Region, model.AppliedCriterionResult, error) {
	c := run.Criteria[idx]
	cat := run.categories[idx]
	var applied model.AppliedCriterionResult

	feats, err := run.Cache.Get(ctx, cat)
	if err != nil {
		return geometry.Region{}, applied, err
	}
	applied.POICount = len(feats)
	if len(feats) == 0 {
		applied.Note = NoPlacesNote
		return geometry.Empty(run.proj), applied, nil
	}

	// Only places whose widest possible reach can touch the current region matter.
	current := run.Current()
	maxReach := p.estimator.MaxReachMiles(c.Mode, c.Value)
	var relevant []geometry.Point
	for _, f := range feats {
		pt := geometry.Point{Lat: f.Lat, Lon: f.Lon}
		if current.BoundsDistanceMiles(pt) <= maxReach {
			relevant = append(relevant, pt)
		}
	}
	if len(relevant) == 0 {
		return geometry.Empty(run.proj), applied, nil
	}

	forceApprox := c.Mode.IsTravelTime() && len(relevant) > p.cfg.MaxIsochrones
	estimates := make([]reach.Estimate, len(relevant))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ReachConcurrency)
	for i, pt := range relevant {
		g.Go(func() error {
			var est reach.Estimate
			var err error
			if forceApprox {
				est, err = p.estimator.Approximate(run.proj, pt, c.Mode, c.Value, reach.ReasonTooMany)
			} else {
				est, err = p.estimator.Estimate(gctx, run.proj, pt, c.Mode, c.Value)
			}
			if err != nil {
				return err
			}
			estimates[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return geometry.Region{}, applied, err
	}

	regions := make([]geometry.Region, len(estimates))
	for i, est := range estimates {
		regions[i] = est.Region
		if est.Approximate && !applied.Approximate {
			applied.Approximate = true
			applied.Note = est.Reason
		}
	}
	u := geometry.Union(regions...)
	return u, applied, nil
}

func (p *Pipeline) result(run *Run, display string, radius float64) *Result {
	initial := geometry.AreaSqMiles(run.History[0])
	final := geometry.AreaSqMiles(run.Current())
	res := &Result{
		RunID:              run.ID,
		Center:             run.Center,
		DisplayName:        display,
		RadiusMiles:        radius,
		InitialAreaSqMiles: initial,
		FinalAreaSqMiles:   final,
		ReductionPercent:   ReductionPercent(initial, final),
		Applied:            run.applied,
		ExecutionOrder:     run.Order,
		Region:             run.Current(),
		History:            run.History,
		Elapsed:            time.Since(run.started),
	}
	for _, a := range run.applied {
		if a.Approximate {
			res.Approximate = true
		}
	}
	return res
}

// PlacesWithin returns the category's POIs inside an arbitrary region. The
// source is queried once with a circle covering the region.
func (p *Pipeline) PlacesWithin(ctx context.Context, region geometry.Region, category string) ([]model.POIFeature, error) {
	cat, err := p.catalog.Resolve(category)
	if err != nil {
		return nil, err
	}
	if region.IsEmpty() {
		return []model.POIFeature{}, nil
	}
	center, err := geometry.Centroid(region)
	if err != nil {
		return nil, err
	}
	radius, err := geometry.HullRadiusMiles(region, center)
	if err != nil {
		return nil, err
	}
	cache := poi.NewCache(p.source, poi.Boundary{Center: center, RadiusMiles: radius}, p.cfg.POITimeout)
	return cache.Within(ctx, region, cat)
}

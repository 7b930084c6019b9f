// Package reach turns a (point, mode, value) triple into the region reachable
// from that point. Travel-time modes ask a Router for a real isochrone and fall
// back to an irregular speed-based buffer when routing is unavailable.
package reach

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/resilience"
)

// Router computes travel-time isochrones. The returned geometry must be a
// Polygon or MultiPolygon in lon/lat.
type Router interface {
	Isochrone(ctx context.Context, origin geometry.Point, mode model.Mode, minutes float64) (geom.T, error)
}

// Fallback reasons.
const (
	ReasonNoRouter     = "routing disabled"
	ReasonCircuitOpen  = "routing circuit open"
	ReasonTimeout      = "routing timed out"
	ReasonRouterError  = "routing failed"
	ReasonEmptyPolygon = "routing returned an empty polygon"
	ReasonTooMany      = "too many places to route individually"
)

// Config holds the speed model.
type Config struct {
	// SpeedsMPH are the typical speeds used for fallback polygons.
	SpeedsMPH map[model.Mode]float64
	// MaxSpeedsMPH bound how far any isochrone can reach; used for pruning.
	MaxSpeedsMPH map[model.Mode]float64
	// Amplitudes bound the fallback irregularity per mode.
	Amplitudes map[model.Mode]float64
	// Timeout caps a single router call.
	Timeout time.Duration
}

// DefaultConfig returns the built-in speed model.
func DefaultConfig() Config {
	return Config{
		SpeedsMPH: map[model.Mode]float64{
			model.ModeWalk:  3,
			model.ModeBike:  12,
			model.ModeDrive: 25,
		},
		MaxSpeedsMPH: map[model.Mode]float64{
			model.ModeWalk:  4,
			model.ModeBike:  18,
			model.ModeDrive: 65,
		},
		Amplitudes: map[model.Mode]float64{
			model.ModeWalk:  0.15,
			model.ModeBike:  0.20,
			model.ModeDrive: 0.25,
		},
		Timeout: 10 * time.Second,
	}
}

// Estimate is a reach polygon plus how it was obtained.
type Estimate struct {
	Region      geometry.Region
	Approximate bool
	Reason      string
}

// Estimator computes reach regions. It is safe for concurrent use.
type Estimator struct {
	cfg          Config
	router       Router
	breaker      *resilience.CircuitBreaker
	irregularity Irregularity
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithRouter enables real isochrones.
func WithRouter(r Router) Option {
	return func(e *Estimator) { e.router = r }
}

// WithBreaker guards router calls with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Estimator) { e.breaker = cb }
}

// WithIrregularity swaps the fallback perturbation.
func WithIrregularity(f Irregularity) Option {
	return func(e *Estimator) { e.irregularity = f }
}

// New creates an Estimator. Missing config entries fall back to defaults.
func New(cfg Config, opts ...Option) *Estimator {
	def := DefaultConfig()
	if cfg.SpeedsMPH == nil {
		cfg.SpeedsMPH = def.SpeedsMPH
	}
	if cfg.MaxSpeedsMPH == nil {
		cfg.MaxSpeedsMPH = def.MaxSpeedsMPH
	}
	if cfg.Amplitudes == nil {
		cfg.Amplitudes = def.Amplitudes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	e := &Estimator{cfg: cfg, irregularity: HarmonicIrregularity}
	for _, o := range opts {
		o(e)
	}
	if e.router != nil && e.breaker == nil {
		e.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			ShouldTrip: func(err error) bool { return !errors.Is(err, context.Canceled) },
		})
	}
	return e
}

// MaxReachMiles is an upper bound on how far a criterion can reach, covering
// both real isochrones and the widest point of a fallback polygon.
func (e *Estimator) MaxReachMiles(mode model.Mode, value float64) float64 {
	if !mode.IsTravelTime() {
		return value
	}
	fallback := e.cfg.SpeedsMPH[mode] * (1 + e.cfg.Amplitudes[mode])
	speed := math.Max(e.cfg.MaxSpeedsMPH[mode], fallback)
	return value / 60 * speed
}

// Estimate returns the region reachable from origin. Distance mode is an
// exact buffer and never consults the router. Router problems are not
// errors: the result is a flagged approximation. Errors are reserved for
// invalid input and cancellation of ctx.
func (e *Estimator) Estimate(ctx context.Context, proj geometry.Projection, origin geometry.Point, mode model.Mode, value float64) (Estimate, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return Estimate{}, model.NewGeometryError("reach", "value must be positive")
	}
	switch mode {
	case model.ModeDistance:
		r, err := geometry.BufferDistance(proj, origin, value)
		if err != nil {
			return Estimate{}, err
		}
		return Estimate{Region: r}, nil
	case model.ModeWalk, model.ModeBike, model.ModeDrive:
	default:
		return Estimate{}, eris.Errorf("reach: unknown mode %q", mode)
	}

	if e.router == nil {
		return e.fallback(proj, origin, mode, value, ReasonNoRouter)
	}

	region, err := e.route(ctx, proj, origin, mode, value)
	if err == nil {
		return Estimate{Region: region}, nil
	}
	if ctx.Err() != nil {
		return Estimate{}, eris.Wrap(ctx.Err(), "reach: estimate")
	}

	reason := ReasonRouterError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		reason = ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(err, errEmptyIsochrone):
		reason = ReasonEmptyPolygon
	}
	zap.L().Debug("reach: using approximate polygon",
		zap.String("mode", string(mode)),
		zap.Float64("minutes", value),
		zap.String("reason", reason),
		zap.Error(&model.RoutingUnavailableError{Mode: mode, Err: err}),
	)
	return e.fallback(proj, origin, mode, value, reason)
}

// Approximate skips the router and returns the fallback polygon flagged with
// reason. Distance mode is still exact.
func (e *Estimator) Approximate(proj geometry.Projection, origin geometry.Point, mode model.Mode, value float64, reason string) (Estimate, error) {
	if !mode.IsTravelTime() {
		return e.Estimate(context.Background(), proj, origin, mode, value)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return Estimate{}, model.NewGeometryError("reach", "value must be positive")
	}
	return e.fallback(proj, origin, mode, value, reason)
}

var errEmptyIsochrone = errors.New("empty isochrone")

func (e *Estimator) route(ctx context.Context, proj geometry.Projection, origin geometry.Point, mode model.Mode, minutes float64) (geometry.Region, error) {
	g, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (geom.T, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
		return e.router.Isochrone(callCtx, origin, mode, minutes)
	})
	if err != nil {
		return geometry.Region{}, err
	}
	if g == nil {
		return geometry.Region{}, errEmptyIsochrone
	}
	region, err := geometry.RegionFromGeom(proj, g)
	if err != nil {
		return geometry.Region{}, err
	}
	if region.IsEmpty() {
		return geometry.Region{}, errEmptyIsochrone
	}
	return region, nil
}

func (e *Estimator) fallback(proj geometry.Projection, origin geometry.Point, mode model.Mode, minutes float64, reason string) (Estimate, error) {
	radius := minutes / 60 * e.cfg.SpeedsMPH[mode]
	amp := e.cfg.Amplitudes[mode]
	irr := e.irregularity
	r, err := geometry.BufferVarying(proj, origin, radius, func(bearing float64) float64 {
		return 1 + irr(origin, amp, bearing)
	})
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Region: r, Approximate: true, Reason: reason}, nil
}

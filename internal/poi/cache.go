package poi

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
)

// MaxExpansionMiles caps how far a query boundary grows past the initial
// search circle, whatever the criterion value.
const MaxExpansionMiles = 5.0

// Boundary is the circle a POI query covers.
type Boundary struct {
	Center      geometry.Point
	RadiusMiles float64
}

// Source queries an external POI database. Implementations must honour ctx.
type Source interface {
	Query(ctx context.Context, b Boundary, cat Category) ([]model.POIFeature, error)
}

// Stats counts cache traffic.
type Stats struct {
	Requests int64 `json:"requests"`
	Queries  int64 `json:"queries"`
	Failures int64 `json:"failures"`
}

// Hits is the number of requests answered without a source query of their own.
func (s Stats) Hits() int64 {
	if h := s.Requests - s.Queries; h > 0 {
		return h
	}
	return 0
}

// Cache holds the POIs of each category found inside one run's stable query
// boundary. At most one query per category is in flight; concurrent callers
// share it. Failures are not cached.
type Cache struct {
	src     Source
	base    Boundary
	timeout time.Duration

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string][]model.POIFeature
	margins map[string]float64
	flights map[string]*flight

	requests atomic.Int64
	queries  atomic.Int64
	failures atomic.Int64
}

// NewCache creates a cache for a run whose initial search circle is base.
func NewCache(src Source, base Boundary, timeout time.Duration) *Cache {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Cache{
		src:     src,
		base:    base,
		timeout: timeout,
		entries: make(map[string][]model.POIFeature),
		margins: make(map[string]float64),
		flights: make(map[string]*flight),
	}
}

// flight is the query context shared by every caller waiting on a category.
// It outlives any single caller and is cancelled when the last one leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *Cache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		f = &flight{ctx: qctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

// Expand widens the query margin for a category, capped at
// MaxExpansionMiles. It only grows, and has no effect once the category has
// been fetched.
func (c *Cache) Expand(cat Category, miles float64) {
	if math.IsNaN(miles) || miles <= 0 {
		return
	}
	miles = math.Min(miles, MaxExpansionMiles)
	c.mu.Lock()
	defer c.mu.Unlock()
	if miles > c.margins[cat.Key()] {
		c.margins[cat.Key()] = miles
	}
}

// Boundary returns the circle queried for a category.
func (c *Cache) Boundary(cat Category) Boundary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Boundary{Center: c.base.Center, RadiusMiles: c.base.RadiusMiles + c.margins[cat.Key()]}
}

// Get returns the category's POIs, querying the source on first use.
func (c *Cache) Get(ctx context.Context, cat Category) ([]model.POIFeature, error) {
	c.requests.Add(1)
	key := cat.Key()
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		c.queries.Add(1)
		b := c.Boundary(cat)

		start := time.Now()
		feats, err := c.src.Query(f.ctx, b, cat)
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}
		if feats == nil {
			feats = []model.POIFeature{}
		}

		c.mu.Lock()
		c.entries[key] = feats
		c.mu.Unlock()

		zap.L().Debug("poi: category fetched",
			zap.String("category", cat.Name),
			zap.Float64("radius_miles", b.RadiusMiles),
			zap.Int("features", len(feats)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return feats, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, &model.DataSourceError{Source: "poi", Category: cat.Name, Err: res.Err}
		}
		return res.Val.([]model.POIFeature), nil
	}
}

func (c *Cache) lookup(key string) ([]model.POIFeature, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Queries:  c.queries.Load(),
		Failures: c.failures.Load(),
	}
}

// Prefetch warms the cache for the given categories in the background, at
// most limit at a time. Failures are only logged; the next Get retries. The
// returned func blocks until every fetch has finished.
func (c *Cache) Prefetch(ctx context.Context, cats []Category, limit int) (wait func()) {
	if limit <= 0 {
		limit = 4
	}
	seen := make(map[string]bool, len(cats))
	var todo []Category
	for _, cat := range cats {
		if !seen[cat.Key()] {
			seen[cat.Key()] = true
			todo = append(todo, cat)
		}
	}

	var g errgroup.Group
	g.SetLimit(limit)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, cat := range todo {
			g.Go(func() error {
				if _, err := c.Get(ctx, cat); err != nil && ctx.Err() == nil {
					zap.L().Warn("poi: prefetch failed",
						zap.String("category", cat.Name),
						zap.Error(err),
					)
				}
				return nil
			})
		}
	}()
	return func() {
		<-done
		_ = g.Wait()
	}
}

// Within returns the category's POIs that fall inside region.
func (c *Cache) Within(ctx context.Context, region geometry.Region, cat Category) ([]model.POIFeature, error) {
	feats, err := c.Get(ctx, cat)
	if err != nil {
		return nil, err
	}
	out := make([]model.POIFeature, 0, len(feats))
	for _, f := range feats {
		if geometry.ContainsPoint(region, geometry.Point{Lat: f.Lat, Lon: f.Lon}) {
			out = append(out, f)
		}
	}
	return out, nil
}

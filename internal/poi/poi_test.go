package poi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var center = geometry.Point{Lat: 35.9940, Lon: -78.8986}

type fakeSource struct {
	calls    atomic.Int32
	mu       sync.Mutex
	bounds   []Boundary
	delay    time.Duration
	failures int32
	feats    []model.POIFeature
	canceled atomic.Int32
}

func (f *fakeSource) Query(ctx context.Context, b Boundary, cat Category) ([]model.POIFeature, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.bounds = append(f.bounds, b)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.canceled.Add(1)
			return nil, ctx.Err()
		}
	}
	if n <= f.failures {
		return nil, errors.New("overpass: 504 gateway timeout")
	}
	out := make([]model.POIFeature, len(f.feats))
	for i, p := range f.feats {
		p.Category = cat.Name
		out[i] = p
	}
	return out, nil
}

func park(t *testing.T) Category {
	t.Helper()
	cat, ok := DefaultCatalog().Lookup("park")
	require.True(t, ok)
	return cat
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()
	c := DefaultCatalog()
	all := c.All()
	assert.Len(t, all, 25)
	assert.Equal(t, "Grocery Store", all[0].Name)

	cat, ok := c.Lookup("  italian restaurant ")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"amenity": "restaurant", "cuisine": "italian"}, cat.Tags)
	assert.Equal(t, []string{"amenity", "cuisine"}, cat.TagKeys())

	_, err := c.Resolve("Spaceport")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestParseCatalog_Invalid(t *testing.T) {
	t.Parallel()
	_, err := ParseCatalog([]byte("categories:\n  - name: Park\n"))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("categories:\n  - name: Park\n    tags: {leisure: park}\n  - name: park\n    tags: {leisure: park}\n"))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("{{"))
	assert.Error(t, err)
}

func TestCache_ConcurrentGetQueriesOnce(t *testing.T) {
	t.Parallel()
	src := &fakeSource{delay: 30 * time.Millisecond, feats: []model.POIFeature{{ID: "node/1", Lat: 35.99, Lon: -78.9}}}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, time.Second)
	cat := park(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feats, err := c.Get(context.Background(), cat)
			assert.NoError(t, err)
			assert.Len(t, feats, 1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	st := c.Stats()
	assert.EqualValues(t, 10, st.Requests)
	assert.EqualValues(t, 1, st.Queries)
	assert.EqualValues(t, 9, st.Hits())
}

func TestCache_ErrorsNotCached(t *testing.T) {
	t.Parallel()
	src := &fakeSource{failures: 1, feats: []model.POIFeature{{ID: "node/1"}}}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, time.Second)
	cat := park(t)

	_, err := c.Get(context.Background(), cat)
	var dse *model.DataSourceError
	require.ErrorAs(t, err, &dse)
	assert.Equal(t, "Park", dse.Category)

	feats, err := c.Get(context.Background(), cat)
	require.NoError(t, err)
	assert.Len(t, feats, 1)
	assert.EqualValues(t, 2, src.calls.Load())
	assert.EqualValues(t, 1, c.Stats().Failures)
}

func TestCache_EmptyResultIsCached(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, time.Second)
	cat := park(t)

	for i := 0; i < 3; i++ {
		feats, err := c.Get(context.Background(), cat)
		require.NoError(t, err)
		assert.NotNil(t, feats)
		assert.Empty(t, feats)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestCache_ExpandCapped(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, time.Second)
	cat := park(t)

	c.Expand(cat, 0.5)
	c.Expand(cat, 2)
	c.Expand(cat, 1)
	assert.InDelta(t, 5.0, c.Boundary(cat).RadiusMiles, 1e-9)

	c.Expand(cat, 40)
	assert.InDelta(t, 3+MaxExpansionMiles, c.Boundary(cat).RadiusMiles, 1e-9)

	_, err := c.Get(context.Background(), cat)
	require.NoError(t, err)
	require.Len(t, src.bounds, 1)
	assert.InDelta(t, 8.0, src.bounds[0].RadiusMiles, 1e-9)
	assert.Equal(t, center, src.bounds[0].Center)
}

func TestCache_ContextCanceled(t *testing.T) {
	t.Parallel()
	src := &fakeSource{delay: time.Second}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, park(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_FirstCallerCancelDoesNotFailOthers(t *testing.T) {
	t.Parallel()
	src := &fakeSource{delay: 100 * time.Millisecond, feats: []model.POIFeature{{ID: "node/1"}}}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, 5*time.Second)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(first, park(t))
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan []model.POIFeature, 1)
	go func() {
		feats, err := c.Get(context.Background(), park(t))
		assert.NoError(t, err)
		second <- feats
	}()
	// Let the second caller join the in-flight query before the first leaves.
	require.Eventually(t, func() bool { return c.Stats().Requests == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	select {
	case feats := <-second:
		assert.Len(t, feats, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got a result")
	}
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Zero(t, src.canceled.Load())
}

func TestCache_LastCallerCancelStopsQuery(t *testing.T) {
	t.Parallel()
	src := &fakeSource{delay: 5 * time.Second}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, park(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return src.canceled.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCache_Timeout(t *testing.T) {
	t.Parallel()
	src := &fakeSource{delay: time.Second}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, 20*time.Millisecond)

	_, err := c.Get(context.Background(), park(t))
	var dse *model.DataSourceError
	assert.ErrorAs(t, err, &dse)
}

func TestCache_Prefetch(t *testing.T) {
	t.Parallel()
	src := &fakeSource{failures: 1, feats: []model.POIFeature{{ID: "node/1"}}}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 3}, time.Second)
	cat := park(t)
	grocery, _ := DefaultCatalog().Lookup("Grocery Store")

	wait := c.Prefetch(context.Background(), []Category{cat, cat, grocery}, 2)
	wait()
	assert.EqualValues(t, 2, src.calls.Load())

	// One of the two prefetches failed and was not cached; Get retries it.
	_, err := c.Get(context.Background(), cat)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), grocery)
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.calls.Load())
}

func TestCache_Within(t *testing.T) {
	t.Parallel()
	src := &fakeSource{feats: []model.POIFeature{
		{ID: "node/1", Lat: center.Lat, Lon: center.Lon},
		{ID: "node/2", Lat: 36.2, Lon: -78.5},
	}}
	c := NewCache(src, Boundary{Center: center, RadiusMiles: 30}, time.Second)
	proj, err := geometry.NewProjection(center)
	require.NoError(t, err)
	region, err := geometry.BufferDistance(proj, center, 1)
	require.NoError(t, err)

	got, err := c.Within(context.Background(), region, park(t))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "node/1", got[0].ID)
}

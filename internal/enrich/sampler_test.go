package enrich

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var durham = geometry.Point{Lat: 35.9940, Lon: -78.8986}

type fakeDirectory struct {
	usage    model.Usage
	usageErr error
	queries  []model.DirectoryQuery
	respond  func(n int, q model.DirectoryQuery) ([]model.PremiumLocation, error)
}

func (f *fakeDirectory) Search(_ context.Context, q model.DirectoryQuery) ([]model.PremiumLocation, error) {
	f.queries = append(f.queries, q)
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(len(f.queries), q)
}

func (f *fakeDirectory) Usage(context.Context) (model.Usage, error) {
	return f.usage, f.usageErr
}

func proj(t *testing.T) geometry.Projection {
	t.Helper()
	p, err := geometry.NewProjection(durham)
	require.NoError(t, err)
	return p
}

// discs builds n disjoint discs of the given radius spaced 3 miles apart.
func discs(t *testing.T, n int, miles float64) geometry.Region {
	t.Helper()
	p := proj(t)
	var rs []geometry.Region
	for i := 0; i < n; i++ {
		c := geometry.Destination(durham, math.Pi/2, float64(i)*3*geometry.MetersPerMile)
		r, err := geometry.BufferDistance(p, c, miles)
		require.NoError(t, err)
		rs = append(rs, r)
	}
	return geometry.Union(rs...)
}

func loc(id string, p geometry.Point) model.PremiumLocation {
	return model.PremiumLocation{ID: id, Name: id, Lat: p.Lat, Lon: p.Lon}
}

func TestSamples_MultiPart(t *testing.T) {
	t.Parallel()
	s := NewSampler(&fakeDirectory{}, DefaultConfig(), nil)

	got, err := s.Samples(discs(t, 3, 1))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, smp := range got {
		assert.InDelta(t, 1.0, smp.RadiusMiles, 0.02)
	}

	got, err = s.Samples(discs(t, 7, 0.5))
	require.NoError(t, err)
	assert.Len(t, got, MaxCentroids)
}

func TestSamples_SingleLargePartUsesGrid(t *testing.T) {
	t.Parallel()
	s := NewSampler(&fakeDirectory{}, DefaultConfig(), nil)
	region := discs(t, 1, 5)

	got, err := s.Samples(region)
	require.NoError(t, err)
	require.Len(t, got, MaxCentroids)
	assert.Less(t, geometry.DistanceMiles(got[0].Point, durham), 0.01)
	for _, smp := range got {
		assert.True(t, geometry.ContainsPoint(region, smp.Point))
		assert.GreaterOrEqual(t, smp.RadiusMiles, 0.25)
		assert.LessOrEqual(t, smp.RadiusMiles, 10.0)
	}
}

func TestSamples_SmallRegionClamped(t *testing.T) {
	t.Parallel()
	s := NewSampler(&fakeDirectory{}, DefaultConfig(), nil)
	got, err := s.Samples(discs(t, 1, 0.1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.25, got[0].RadiusMiles)
}

func TestSample_FiltersAndDedupes(t *testing.T) {
	t.Parallel()
	region := discs(t, 2, 1)
	outside := geometry.Destination(durham, 0, 10*geometry.MetersPerMile)
	dir := &fakeDirectory{
		usage: model.Usage{Limit: 100, Used: 10},
		respond: func(int, model.DirectoryQuery) ([]model.PremiumLocation, error) {
			return []model.PremiumLocation{loc("a", durham), loc("b", outside), loc("a", durham)}, nil
		},
	}
	s := NewSampler(dir, DefaultConfig(), nil)

	res, err := s.Sample(context.Background(), Request{Region: region, Category: "Restaurant"})
	require.NoError(t, err)
	require.Len(t, res.Locations, 1)
	assert.Equal(t, "a", res.Locations[0].ID)
	assert.Equal(t, 2, res.CentroidsSearched)
	assert.Equal(t, 2, res.APICallsUsed)
	assert.False(t, res.QuotaExceeded)
	assert.Equal(t, 12, res.Usage.Used)
	for _, l := range res.Locations {
		assert.True(t, geometry.ContainsPoint(region, geometry.Point{Lat: l.Lat, Lon: l.Lon}))
	}
	assert.Equal(t, []string{"restaurant"}, dir.queries[0].PlaceTypes)
}

func TestSample_QuotaExhaustedBeforeFirstCall(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{usage: model.Usage{Limit: 50, Used: 50}}
	s := NewSampler(dir, DefaultConfig(), nil)

	res, err := s.Sample(context.Background(), Request{Region: discs(t, 2, 1), Category: "Hotel"})
	require.NoError(t, err)
	assert.True(t, res.QuotaExceeded)
	assert.Zero(t, res.APICallsUsed)
	assert.Empty(t, dir.queries)
	assert.Empty(t, res.Locations)
}

func TestSample_BudgetStopsMidway(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{usage: model.Usage{Limit: 50, Used: 49}}
	s := NewSampler(dir, DefaultConfig(), nil)

	res, err := s.Sample(context.Background(), Request{Region: discs(t, 3, 1), Category: "Hotel"})
	require.NoError(t, err)
	assert.True(t, res.QuotaExceeded)
	assert.Equal(t, 1, res.APICallsUsed)
	assert.Len(t, dir.queries, 1)
}

func TestSample_DirectoryQuotaError(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{
		usage: model.Usage{Limit: 50},
		respond: func(n int, q model.DirectoryQuery) ([]model.PremiumLocation, error) {
			if n > 1 {
				return nil, fmt.Errorf("places: %w", model.ErrQuotaExceeded)
			}
			return []model.PremiumLocation{loc("first", geometry.Point{Lat: q.Lat, Lon: q.Lon})}, nil
		},
	}
	s := NewSampler(dir, DefaultConfig(), nil)

	res, err := s.Sample(context.Background(), Request{Region: discs(t, 3, 1), Category: "Bar"})
	require.NoError(t, err)
	assert.True(t, res.QuotaExceeded)
	assert.Equal(t, 1, res.CentroidsSearched)
	require.Len(t, res.Locations, 1)
}

func TestSample_DirectoryError(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{
		usage: model.Usage{Limit: 50},
		respond: func(int, model.DirectoryQuery) ([]model.PremiumLocation, error) {
			return nil, errors.New("places: 500")
		},
	}
	s := NewSampler(dir, DefaultConfig(), nil)

	res, err := s.Sample(context.Background(), Request{Region: discs(t, 1, 1), Category: "Bar"})
	assert.Nil(t, res)
	var dse *model.DataSourceError
	require.ErrorAs(t, err, &dse)
	assert.Equal(t, "directory", dse.Source)

	dir = &fakeDirectory{usageErr: errors.New("store down")}
	_, err = NewSampler(dir, DefaultConfig(), nil).Sample(context.Background(), Request{Region: discs(t, 1, 1), Category: "Bar"})
	assert.ErrorAs(t, err, &dse)
}

func TestSample_MaxLocations(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{
		usage: model.Usage{Limit: 50},
		respond: func(n int, q model.DirectoryQuery) ([]model.PremiumLocation, error) {
			c := geometry.Point{Lat: q.Lat, Lon: q.Lon}
			return []model.PremiumLocation{loc(fmt.Sprintf("%d-1", n), c), loc(fmt.Sprintf("%d-2", n), c)}, nil
		},
	}
	s := NewSampler(dir, DefaultConfig(), nil)

	res, err := s.Sample(context.Background(), Request{Region: discs(t, 4, 1), Category: "Park", MaxLocations: 3})
	require.NoError(t, err)
	assert.Len(t, res.Locations, 3)
	assert.Equal(t, 2, res.CentroidsSearched)
}

func TestSample_EmptyRegion(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{usageErr: errors.New("must not be called")}
	s := NewSampler(dir, DefaultConfig(), nil)

	res, err := s.Sample(context.Background(), Request{Region: geometry.Empty(proj(t)), Category: "Park"})
	require.NoError(t, err)
	assert.Empty(t, res.Locations)
	assert.Zero(t, res.APICallsUsed)
}

func TestSample_CategoryAndSubcategory(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{usage: model.Usage{Limit: 50}}
	s := NewSampler(dir, DefaultConfig(), nil)

	_, err := s.Sample(context.Background(), Request{Region: discs(t, 1, 1), Category: "Moon Base"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = s.Sample(context.Background(), Request{Region: discs(t, 1, 1), Category: "Restaurant", Subcategory: "Italian Restaurant"})
	require.NoError(t, err)
	require.Len(t, dir.queries, 1)
	assert.Equal(t, []string{"italian_restaurant"}, dir.queries[0].PlaceTypes)
	assert.Equal(t, "Italian Restaurant", dir.queries[0].Subcategory)
}

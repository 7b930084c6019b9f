package google_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/resilience"
	"github.com/sells-group/distance-finder/pkg/google"
	"github.com/sells-group/distance-finder/pkg/google/mocks"
)

// memUsage is an in-memory UsageCounter.
type memUsage struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newMemUsage() *memUsage { return &memUsage{counts: map[string]int{}} }

func (m *memUsage) MonthlyUsage(_ context.Context, service, month string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[service+"|"+month], nil
}

func (m *memUsage) IncrementUsage(_ context.Context, service, month string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[service+"|"+month] += n
	return m.counts[service+"|"+month], nil
}

func (m *memUsage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.counts {
		n += v
	}
	return n
}

func query() model.DirectoryQuery {
	return model.DirectoryQuery{
		Lat: 35.99, Lon: -78.9, RadiusMiles: 0.5,
		Category: "Restaurant", PlaceTypes: []string{"restaurant"}, MaxResults: 50,
	}
}

func TestDirectory_SearchNearby(t *testing.T) {
	client := mocks.NewMockClient(t)
	usage := newMemUsage()
	dir := google.NewDirectory(client, usage, 10)

	rating := 4.2
	client.On("SearchNearby", mock.Anything, mock.MatchedBy(func(r google.NearbyRequest) bool {
		return r.MaxResultCount == google.MaxResultCount &&
			r.LocationRestriction.Circle.Radius > 804 && r.LocationRestriction.Circle.Radius < 805 &&
			r.IncludedTypes[0] == "restaurant"
	})).Return(&google.SearchResponse{Places: []google.Place{{
		ID:               "p1",
		DisplayName:      google.DisplayName{Text: "Diner"},
		FormattedAddress: "1 Main St",
		Location:         google.LatLng{Latitude: 35.991, Longitude: -78.901},
		Rating:           &rating,
		PriceLevel:       "PRICE_LEVEL_EXPENSIVE",
		GoogleMapsURI:    "https://maps.google.com/?cid=1",
	}}}, nil).Once()

	locs, err := dir.Search(context.Background(), query())
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "p1", locs[0].ID)
	assert.Equal(t, "Restaurant", locs[0].Category)
	assert.Equal(t, "$$$", locs[0].PriceLevel)
	assert.InDelta(t, 4.2, *locs[0].Rating, 1e-9)
	assert.Equal(t, 1, usage.total())

	u, err := dir.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, u.Limit)
	assert.Equal(t, 1, u.Used)
	assert.Equal(t, 9, u.Remaining())
}

func TestDirectory_SubcategoryUsesTextSearch(t *testing.T) {
	client := mocks.NewMockClient(t)
	dir := google.NewDirectory(client, newMemUsage(), 10)

	client.On("TextSearch", mock.Anything, mock.MatchedBy(func(r google.TextRequest) bool {
		return r.TextQuery == "sushi Restaurant" && r.IncludedType == "restaurant" && r.LocationBias != nil
	})).Return(&google.SearchResponse{}, nil).Once()

	q := query()
	q.Subcategory = "sushi"
	locs, err := dir.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestDirectory_QuotaSpent(t *testing.T) {
	client := mocks.NewMockClient(t)
	usage := newMemUsage()
	dir := google.NewDirectory(client, usage, 2)
	_, _ = usage.IncrementUsage(context.Background(), google.ServiceName, mustMonth(t, dir), 2)

	_, err := dir.Search(context.Background(), query())
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)
	client.AssertNotCalled(t, "SearchNearby", mock.Anything, mock.Anything)
}

func TestDirectory_RateLimitedIsQuota(t *testing.T) {
	client := mocks.NewMockClient(t)
	usage := newMemUsage()
	dir := google.NewDirectory(client, usage, 10)

	statusErr := resilience.NewTransientError(&resilience.StatusError{Service: "google places", StatusCode: http.StatusTooManyRequests}, 429)
	client.On("SearchNearby", mock.Anything, mock.Anything).Return(nil, statusErr).Once()

	_, err := dir.Search(context.Background(), query())
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)
	assert.Equal(t, 1, usage.total())
}

func TestDirectory_TransportErrorNotBilled(t *testing.T) {
	client := mocks.NewMockClient(t)
	usage := newMemUsage()
	dir := google.NewDirectory(client, usage, 10)

	client.On("SearchNearby", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused")).Once()

	_, err := dir.Search(context.Background(), query())
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrQuotaExceeded)
	assert.Equal(t, 0, usage.total())
}

func TestDirectory_UsageError(t *testing.T) {
	usage := newMemUsage()
	usage.err = errors.New("db down")
	dir := google.NewDirectory(mocks.NewMockClient(t), usage, 10)

	_, err := dir.Usage(context.Background())
	assert.Error(t, err)
	_, err = dir.Search(context.Background(), query())
	assert.Error(t, err)
}

func mustMonth(t *testing.T, dir *google.Directory) string {
	t.Helper()
	u, err := dir.Usage(context.Background())
	require.NoError(t, err)
	return u.Month
}

package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distance-finder/internal/resilience"
)

func ptr[T any](v T) *T { return &v }

func TestSearchNearby_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchNearby", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.location")

		var body NearbyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"restaurant"}, body.IncludedTypes)
		assert.Equal(t, 10, body.MaxResultCount)
		assert.InDelta(t, 800, body.LocationRestriction.Circle.Radius, 1e-9)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SearchResponse{
			Places: []Place{{
				ID:              "abc",
				DisplayName:     DisplayName{Text: "Acme Diner"},
				Location:        LatLng{Latitude: 35.99, Longitude: -78.9},
				Rating:          ptr(4.5),
				UserRatingCount: ptr(127),
				PriceLevel:      "PRICE_LEVEL_MODERATE",
			}},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchNearby(context.Background(), NearbyRequest{
		IncludedTypes:       []string{"restaurant"},
		MaxResultCount:      10,
		LocationRestriction: Area{Circle: Circle{Center: LatLng{Latitude: 35.99, Longitude: -78.9}, Radius: 800}},
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "Acme Diner", resp.Places[0].DisplayName.Text)
	assert.InDelta(t, 4.5, *resp.Places[0].Rating, 0.001)
	assert.Equal(t, 127, *resp.Places[0].UserRatingCount)
}

func TestTextSearch_Body(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places:searchText", r.URL.Path)
		var body TextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sushi Restaurant", body.TextQuery)
		require.NotNil(t, body.LocationBias)
		_ = json.NewEncoder(w).Encode(SearchResponse{})
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL+"/"))
	resp, err := client.TextSearch(context.Background(), TextRequest{
		TextQuery:    "sushi Restaurant",
		LocationBias: &Area{Circle: Circle{Radius: 100}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.SearchNearby(context.Background(), NearbyRequest{})

	require.Error(t, err)
	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestSearch_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).SearchNearby(context.Background(), NearbyRequest{})
	assert.Error(t, err)
}

func TestSearch_BreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	client := NewClient("k", WithBaseURL(srv.URL), WithBreaker(cb), WithRateLimit(100))

	_, err := client.SearchNearby(context.Background(), NearbyRequest{})
	require.Error(t, err)
	_, err = client.SearchNearby(context.Background(), NearbyRequest{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestPriceLevel(t *testing.T) {
	assert.Equal(t, "$", priceLevel("PRICE_LEVEL_INEXPENSIVE"))
	assert.Equal(t, "$$$$", priceLevel("PRICE_LEVEL_VERY_EXPENSIVE"))
	assert.Equal(t, "Free", priceLevel("PRICE_LEVEL_FREE"))
	assert.Equal(t, "", priceLevel("PRICE_LEVEL_UNSPECIFIED"))
}

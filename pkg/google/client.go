// Package google wraps the Google Places API (New) and exposes it as the
// premium business directory.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/distance-finder/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// MaxRadiusMeters is the largest circle searchNearby accepts.
const MaxRadiusMeters = 50000.0

// MaxResultCount is the per-call result cap of both searches.
const MaxResultCount = 20

const fieldMask = "places.id,places.displayName,places.formattedAddress,places.location," +
	"places.rating,places.userRatingCount,places.priceLevel,places.googleMapsUri,places.primaryType"

// Client performs Google Places API operations.
type Client interface {
	SearchNearby(ctx context.Context, req NearbyRequest) (*SearchResponse, error)
	TextSearch(ctx context.Context, req TextRequest) (*SearchResponse, error)
}

// LatLng is a Places API coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Circle is a search area.
type Circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// Area wraps a circle for locationRestriction / locationBias.
type Area struct {
	Circle Circle `json:"circle"`
}

// NearbyRequest is the body of places:searchNearby.
type NearbyRequest struct {
	IncludedTypes       []string `json:"includedTypes,omitempty"`
	MaxResultCount      int      `json:"maxResultCount,omitempty"`
	LocationRestriction Area     `json:"locationRestriction"`
	RankPreference      string   `json:"rankPreference,omitempty"`
}

// TextRequest is the body of places:searchText.
type TextRequest struct {
	TextQuery      string `json:"textQuery"`
	IncludedType   string `json:"includedType,omitempty"`
	MaxResultCount int    `json:"maxResultCount,omitempty"`
	LocationBias   *Area  `json:"locationBias,omitempty"`
}

// SearchResponse is the response of both searches.
type SearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by the API.
type Place struct {
	ID               string      `json:"id"`
	DisplayName      DisplayName `json:"displayName"`
	FormattedAddress string      `json:"formattedAddress"`
	Location         LatLng      `json:"location"`
	Rating           *float64    `json:"rating,omitempty"`
	UserRatingCount  *int        `json:"userRatingCount,omitempty"`
	PriceLevel       string      `json:"priceLevel,omitempty"`
	GoogleMapsURI    string      `json:"googleMapsUri,omitempty"`
	PrimaryType      string      `json:"primaryType,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchNearby(ctx context.Context, req NearbyRequest) (*SearchResponse, error) {
	return c.post(ctx, "places:searchNearby", req)
}

func (c *httpClient) TextSearch(ctx context.Context, req TextRequest) (*SearchResponse, error) {
	return c.post(ctx, "places:searchText", req)
}

// post sends one billed call. Calls are not retried: every attempt counts
// against the monthly quota.
func (c *httpClient) post(ctx context.Context, method string, payload any) (*SearchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	call := func(ctx context.Context) (*SearchResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "google: rate limit")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "google: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
		req.Header.Set("X-Goog-FieldMask", fieldMask)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "google: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse("google places", resp); err != nil {
			return nil, err
		}
		var result SearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, eris.Wrap(err, "google: unmarshal response")
		}
		return &result, nil
	}

	if c.breaker == nil {
		return call(ctx)
	}
	return resilience.ExecuteVal(ctx, c.breaker, call)
}

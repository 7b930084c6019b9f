package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/distance-finder/internal/resilience"
)

// DefaultGoogleGeocodeURL is the Google Geocoding API endpoint.
const DefaultGoogleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// GoogleProvider geocodes via the Google Geocoding API.
type GoogleProvider struct {
	key        string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithGoogleURL overrides the API endpoint.
func WithGoogleURL(u string) GoogleOption {
	return func(p *GoogleProvider) {
		if u != "" {
			p.endpoint = u
		}
	}
}

// WithGoogleHTTPClient sets a custom HTTP client.
func WithGoogleHTTPClient(hc *http.Client) GoogleOption {
	return func(p *GoogleProvider) {
		p.httpClient = hc
	}
}

// WithGoogleRateLimit sets requests per second.
func WithGoogleRateLimit(rps float64) GoogleOption {
	return func(p *GoogleProvider) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithGoogleRetry sets the retry policy for transient failures.
func WithGoogleRetry(cfg resilience.RetryConfig) GoogleOption {
	return func(p *GoogleProvider) {
		p.retry = cfg
	}
}

// NewGoogleProvider creates a provider. Without a key it reports itself
// unavailable and the cascade skips it.
func NewGoogleProvider(key string, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		key:        key,
		endpoint:   DefaultGoogleGeocodeURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// Available implements Provider.
func (p *GoogleProvider) Available() bool { return p.key != "" }

// Geocode implements Provider.
func (p *GoogleProvider) Geocode(ctx context.Context, text string) (*Result, error) {
	if p.key == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	params := url.Values{
		"address": {text},
		"key":     {p.key},
	}
	reqURL := p.endpoint + "?" + params.Encode()

	gr, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*googleGeocodeResponse, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "geocode: google rate limit")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "geocode: google build request")
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "geocode: google request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse("google geocode", resp); err != nil {
			return nil, err
		}
		var out googleGeocodeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "geocode: google parse response")
		}
		if out.Status == "OVER_QUERY_LIMIT" || out.Status == "UNKNOWN_ERROR" {
			return nil, resilience.NewTransientError(eris.Errorf("geocode: google status %s", out.Status), 0)
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	switch gr.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &Result{Query: text, Matched: false, Source: "google"}, nil
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", gr.Status, gr.ErrorMessage)
	}
	if len(gr.Results) == 0 {
		return &Result{Query: text, Matched: false, Source: "google"}, nil
	}

	top := gr.Results[0]
	return &Result{
		Query:       text,
		Latitude:    top.Geometry.Location.Lat,
		Longitude:   top.Geometry.Location.Lng,
		DisplayName: top.FormattedAddress,
		Source:      "google",
		Quality:     googleLocationTypeToQuality(top.Geometry.LocationType),
		Matched:     true,
	}, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}

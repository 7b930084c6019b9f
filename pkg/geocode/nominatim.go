package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/distance-finder/internal/resilience"
)

// DefaultNominatimURL is the public OSM instance. Its usage policy allows
// one request per second with an identifying User-Agent.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

type nominatimPlace struct {
	DisplayName string  `json:"display_name"`
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Category    string  `json:"category"`
	Type        string  `json:"type"`
	PlaceRank   int     `json:"place_rank"`
	Importance  float64 `json:"importance"`
}

// NominatimProvider geocodes via the OSM Nominatim search API.
type NominatimProvider struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NominatimOption configures a NominatimProvider.
type NominatimOption func(*NominatimProvider)

// WithNominatimURL points the provider at another instance.
func WithNominatimURL(u string) NominatimOption {
	return func(p *NominatimProvider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent sets the identifying User-Agent header.
func WithUserAgent(ua string) NominatimOption {
	return func(p *NominatimProvider) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

// WithNominatimHTTPClient sets a custom HTTP client.
func WithNominatimHTTPClient(hc *http.Client) NominatimOption {
	return func(p *NominatimProvider) {
		p.httpClient = hc
	}
}

// WithNominatimRateLimit sets requests per second.
func WithNominatimRateLimit(rps float64) NominatimOption {
	return func(p *NominatimProvider) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithNominatimRetry sets the retry policy for transient failures.
func WithNominatimRetry(cfg resilience.RetryConfig) NominatimOption {
	return func(p *NominatimProvider) {
		p.retry = cfg
	}
}

// NewNominatimProvider creates a provider against the public instance.
func NewNominatimProvider(opts ...NominatimOption) *NominatimProvider {
	p := &NominatimProvider{
		baseURL:    DefaultNominatimURL,
		userAgent:  "distance-finder/1.0",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *NominatimProvider) Name() string { return "nominatim" }

// Available implements Provider.
func (p *NominatimProvider) Available() bool { return p.baseURL != "" }

// Geocode implements Provider.
func (p *NominatimProvider) Geocode(ctx context.Context, text string) (*Result, error) {
	params := url.Values{
		"q":      {text},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	reqURL := p.baseURL + "/search?" + params.Encode()

	places, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]nominatimPlace, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "geocode: nominatim rate limit")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "geocode: nominatim build request")
		}
		req.Header.Set("User-Agent", p.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "geocode: nominatim request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse("nominatim", resp); err != nil {
			return nil, err
		}
		var out []nominatimPlace
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "geocode: nominatim parse response")
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	if len(places) == 0 {
		return &Result{Query: text, Matched: false, Source: "nominatim"}, nil
	}
	top := places[0]
	lat, latErr := strconv.ParseFloat(top.Lat, 64)
	lon, lonErr := strconv.ParseFloat(top.Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, eris.Errorf("geocode: nominatim returned bad coordinates %q,%q", top.Lat, top.Lon)
	}

	return &Result{
		Query:       text,
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: top.DisplayName,
		Source:      "nominatim",
		Quality:     placeRankToQuality(top.PlaceRank),
		Matched:     true,
	}, nil
}

// placeRankToQuality maps Nominatim's place_rank (4 country .. 30 building)
// to the shared quality taxonomy.
func placeRankToQuality(rank int) string {
	switch {
	case rank >= 30:
		return "rooftop"
	case rank >= 26:
		return "range"
	case rank >= 16:
		return "centroid"
	default:
		return "approximate"
	}
}

// Package valhalla requests travel-time isochrones from a Valhalla server.
package valhalla

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/reach"
	"github.com/sells-group/distance-finder/internal/resilience"
)

// DefaultURL is the public FOSSGIS instance.
const DefaultURL = "https://valhalla1.openstreetmap.de"

// costing maps travel modes to Valhalla costing models.
var costing = map[model.Mode]string{
	model.ModeWalk:  "pedestrian",
	model.ModeBike:  "bicycle",
	model.ModeDrive: "auto",
}

type location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type contour struct {
	Time float64 `json:"time"`
}

type isochroneRequest struct {
	Locations  []location `json:"locations"`
	Costing    string     `json:"costing"`
	Contours   []contour  `json:"contours"`
	Polygons   bool       `json:"polygons"`
	Generalize float64    `json:"generalize,omitempty"`
}

// Client implements reach.Router.
type Client struct {
	baseURL    string
	generalize float64
	httpClient *http.Client
	retry      resilience.RetryConfig
}

var _ reach.Router = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithGeneralize sets the polygon simplification tolerance in meters.
func WithGeneralize(meters float64) Option {
	return func(c *Client) {
		if meters >= 0 {
			c.generalize = meters
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		generalize: 50,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: 250 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Isochrone implements reach.Router. A MultiPolygon answer is reduced to its
// largest polygon.
func (c *Client) Isochrone(ctx context.Context, origin geometry.Point, mode model.Mode, minutes float64) (geom.T, error) {
	cost, ok := costing[mode]
	if !ok {
		return nil, eris.Errorf("valhalla: no costing for mode %q", mode)
	}
	body, err := json.Marshal(isochroneRequest{
		Locations:  []location{{Lat: origin.Lat, Lon: origin.Lon}},
		Costing:    cost,
		Contours:   []contour{{Time: minutes}},
		Polygons:   true,
		Generalize: c.generalize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "valhalla: encode request")
	}

	fc, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*geojson.FeatureCollection, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/isochrone", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "valhalla: build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "valhalla: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse("valhalla", resp); err != nil {
			return nil, err
		}
		var out geojson.FeatureCollection
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "valhalla: parse response")
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	poly := largestPolygon(fc)
	if poly == nil {
		return nil, eris.New("valhalla: response has no polygon")
	}
	zap.L().Debug("valhalla: isochrone",
		zap.String("mode", string(mode)),
		zap.Float64("minutes", minutes),
		zap.Float64("lat", origin.Lat),
		zap.Float64("lon", origin.Lon),
	)
	return poly, nil
}

// largestPolygon picks the polygon with the largest planar lon/lat area
// across all features.
func largestPolygon(fc *geojson.FeatureCollection) *geom.Polygon {
	var best *geom.Polygon
	bestArea := -1.0
	consider := func(p *geom.Polygon) {
		if p == nil || p.NumLinearRings() == 0 {
			return
		}
		if a := p.Area(); a > bestArea {
			best, bestArea = p, a
		}
	}
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case *geom.Polygon:
			consider(g)
		case *geom.MultiPolygon:
			for i := 0; i < g.NumPolygons(); i++ {
				consider(g.Polygon(i))
			}
		}
	}
	return best
}

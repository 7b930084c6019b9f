// Package overpass fetches OpenStreetMap amenities through the Overpass API.
package overpass

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	goverpass "github.com/serjvanilla/go-overpass"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/poi"
	"github.com/sells-group/distance-finder/internal/resilience"
)

// DefaultURL is the main public Overpass instance.
const DefaultURL = "https://overpass-api.de/api/interpreter"

// Client implements poi.Source.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	slots      chan struct{}
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

var _ poi.Source = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithURL points the client at another Overpass instance.
func WithURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.endpoint = u
		}
	}
}

// WithTimeout sets the server-side query timeout; the HTTP timeout is a
// little longer.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit sets requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithMaxParallel caps concurrent queries. Public instances allow two slots
// per client.
func WithMaxParallel(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.slots = make(chan struct{}, n)
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithBreaker guards queries with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultURL,
		timeout:  30 * time.Second,
		limiter:  rate.NewLimiter(1, 1),
		slots:    make(chan struct{}, 2),
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout + 10*time.Second}
	}
	return c
}

// Query implements poi.Source: every node and way carrying all of the
// category's tags within the boundary circle.
func (c *Client) Query(ctx context.Context, b poi.Boundary, cat poi.Category) ([]model.POIFeature, error) {
	if len(cat.Tags) == 0 {
		return nil, eris.Errorf("overpass: category %q has no tags", cat.Name)
	}
	q := BuildQuery(b, cat, c.timeout)

	start := time.Now()
	res, err := resilience.Call(ctx, c.breaker, c.retry, func(ctx context.Context) (goverpass.Result, error) {
		return c.run(ctx, q)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "overpass: query %s", cat.Name)
	}

	features := Features(res, cat)
	zap.L().Debug("overpass: query complete",
		zap.String("category", cat.Name),
		zap.Float64("radius_miles", b.RadiusMiles),
		zap.Int("features", len(features)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return features, nil
}

func (c *Client) run(ctx context.Context, q string) (goverpass.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return goverpass.Result{}, eris.Wrap(err, "overpass: rate limit")
	}
	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return goverpass.Result{}, eris.Wrap(ctx.Err(), "overpass: wait for slot")
	}

	doer := &ctxDoer{ctx: ctx, hc: c.httpClient}
	api := goverpass.NewWithSettings(c.endpoint, 1, doer)
	res, err := api.Query(q)
	if err != nil {
		if statusErr := doer.err(); statusErr != nil {
			return goverpass.Result{}, statusErr
		}
		if ctx.Err() != nil {
			return goverpass.Result{}, ctx.Err()
		}
		return goverpass.Result{}, err
	}
	return res, nil
}

// ctxDoer binds a context to the library's requests and keeps the status
// error of a failed response so retries can classify it.
type ctxDoer struct {
	ctx context.Context
	hc  *http.Client

	mu      sync.Mutex
	lastErr error
}

func (d *ctxDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.hc.Do(req.WithContext(d.ctx))
	if err != nil {
		d.setErr(err)
		return nil, err
	}
	if cerr := resilience.CheckResponse("overpass", resp); cerr != nil {
		_ = resp.Body.Close()
		d.setErr(cerr)
		return nil, cerr
	}
	return resp, nil
}

func (d *ctxDoer) setErr(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *ctxDoer) err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// BuildQuery renders the Overpass QL for one category around a circle.
func BuildQuery(b poi.Boundary, cat poi.Category, timeout time.Duration) string {
	var filter strings.Builder
	for _, k := range cat.TagKeys() {
		fmt.Fprintf(&filter, `[%s=%s]`, quote(k), quote(cat.Tags[k]))
	}
	around := fmt.Sprintf("(around:%s,%s,%s)",
		strconv.FormatFloat(b.RadiusMiles*geometry.MetersPerMile, 'f', 1, 64),
		strconv.FormatFloat(b.Center.Lat, 'f', 6, 64),
		strconv.FormatFloat(b.Center.Lon, 'f', 6, 64),
	)

	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 30
	}
	var q strings.Builder
	fmt.Fprintf(&q, "[out:json][timeout:%d];\n(\n", secs)
	fmt.Fprintf(&q, "  node%s%s;\n", filter.String(), around)
	fmt.Fprintf(&q, "  way%s%s;\n", filter.String(), around)
	fmt.Fprintf(&q, "  relation%s%s;\n", filter.String(), around)
	q.WriteString(");\nout body;\n>;\nout skel qt;\n")
	return q.String()
}

func quote(s string) string {
	return strconv.Quote(s)
}

// Features converts a response to features, keeping only elements that
// carry every category tag. The skeleton nodes of ways are dropped; a way's
// position is the mean of its nodes and a relation's the mean of its members'
// nodes.
func Features(res goverpass.Result, cat poi.Category) []model.POIFeature {
	var out []model.POIFeature
	for _, n := range res.Nodes {
		if n == nil || !matches(n.Tags, cat.Tags) {
			continue
		}
		out = append(out, feature("node/"+strconv.FormatInt(n.ID, 10), n.Tags, n.Lat, n.Lon, cat))
	}
	for _, w := range res.Ways {
		if w == nil || !matches(w.Tags, cat.Tags) {
			continue
		}
		lat, lon, ok := wayCenter(w)
		if !ok {
			continue
		}
		out = append(out, feature("way/"+strconv.FormatInt(w.ID, 10), w.Tags, lat, lon, cat))
	}
	for _, r := range res.Relations {
		if r == nil || !matches(r.Tags, cat.Tags) {
			continue
		}
		lat, lon, ok := relationCenter(r)
		if !ok {
			continue
		}
		out = append(out, feature("relation/"+strconv.FormatInt(r.ID, 10), r.Tags, lat, lon, cat))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matches(tags, want map[string]string) bool {
	if len(tags) == 0 {
		return false
	}
	for k, v := range want {
		if tags[k] != v {
			return false
		}
	}
	return true
}

func wayCenter(w *goverpass.Way) (float64, float64, bool) {
	var lat, lon float64
	var n int
	for _, node := range w.Nodes {
		if node == nil {
			continue
		}
		lat += node.Lat
		lon += node.Lon
		n++
	}
	if n == 0 {
		if w.Bounds != nil {
			return (w.Bounds.Min.Lat + w.Bounds.Max.Lat) / 2, (w.Bounds.Min.Lon + w.Bounds.Max.Lon) / 2, true
		}
		return 0, 0, false
	}
	return lat / float64(n), lon / float64(n), true
}

// relationCenter averages the nodes of a relation's member ways and nodes,
// which the recursion in the query brings back.
func relationCenter(r *goverpass.Relation) (float64, float64, bool) {
	var lat, lon float64
	var n int
	add := func(node *goverpass.Node) {
		if node == nil {
			return
		}
		lat += node.Lat
		lon += node.Lon
		n++
	}
	for _, m := range r.Members {
		add(m.Node)
		if m.Way != nil {
			for _, node := range m.Way.Nodes {
				add(node)
			}
		}
	}
	if n == 0 {
		if r.Bounds != nil {
			return (r.Bounds.Min.Lat + r.Bounds.Max.Lat) / 2, (r.Bounds.Min.Lon + r.Bounds.Max.Lon) / 2, true
		}
		return 0, 0, false
	}
	return lat / float64(n), lon / float64(n), true
}

func feature(id string, tags map[string]string, lat, lon float64, cat poi.Category) model.POIFeature {
	name := tags["name"]
	if name == "" {
		name = cat.Name
	}
	return model.POIFeature{
		ID:           id,
		Category:     cat.Name,
		Name:         name,
		Lat:          lat,
		Lon:          lon,
		Address:      address(tags),
		OpeningHours: tags["opening_hours"],
		Phone:        firstNonEmpty(tags["phone"], tags["contact:phone"]),
		Website:      firstNonEmpty(tags["website"], tags["contact:website"]),
	}
}

func address(tags map[string]string) string {
	street := strings.TrimSpace(tags["addr:housenumber"] + " " + tags["addr:street"])
	parts := make([]string, 0, 3)
	for _, p := range []string{street, tags["addr:city"], tags["addr:state"]} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

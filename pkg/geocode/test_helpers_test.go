package geocode

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/distance-finder/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

// fakeProvider answers from a table and records every query.
type fakeProvider struct {
	name    string
	answers map[string]Result
	err     error
	off     bool

	mu      sync.Mutex
	queries []string
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Available() bool { return !f.off }

func (f *fakeProvider) Geocode(_ context.Context, text string) (*Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.answers[text]; ok {
		r.Matched = true
		r.Source = f.name
		return &r, nil
	}
	return &Result{Query: text, Source: f.name}, nil
}

func (f *fakeProvider) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// mapCache is an in-memory Cache.
type mapCache struct {
	mu sync.Mutex
	m  map[string]Result
}

func newMapCache() *mapCache { return &mapCache{m: map[string]Result{}} }

func (c *mapCache) Get(_ context.Context, key string) (*Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, r *Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = *r
	return nil
}

package geocode

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distance-finder/internal/model"
)

// CascadeClient tries providers in order until one matches. Text without a
// comma that nobody matches is retried with US country suffixes.
type CascadeClient struct {
	providers        []Provider
	cache            Cache
	suffixes         bool
	batchConcurrency int
}

// CascadeOption configures the CascadeClient.
type CascadeOption func(*CascadeClient)

// WithCache enables result caching.
func WithCache(c Cache) CascadeOption {
	return func(cc *CascadeClient) {
		cc.cache = c
	}
}

// WithCountrySuffixes toggles the ", USA" retries.
func WithCountrySuffixes(enabled bool) CascadeOption {
	return func(cc *CascadeClient) {
		cc.suffixes = enabled
	}
}

// WithBatchConcurrency sets the max parallel lookups for LocateAll.
func WithBatchConcurrency(n int) CascadeOption {
	return func(cc *CascadeClient) {
		if n > 0 {
			cc.batchConcurrency = n
		}
	}
}

// NewCascadeClient creates a CascadeClient that tries providers in order.
func NewCascadeClient(providers []Provider, opts ...CascadeOption) *CascadeClient {
	c := &CascadeClient{
		providers:        providers,
		suffixes:         true,
		batchConcurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Locate resolves text or returns an error wrapping model.ErrGeocodeNotFound.
func (c *CascadeClient) Locate(ctx context.Context, text string) (*Result, error) {
	r, err := c.Geocode(ctx, text)
	if err != nil {
		return nil, err
	}
	if !r.Matched {
		return nil, eris.Wrapf(model.ErrGeocodeNotFound, "geocode: %q", normalize(text))
	}
	return r, nil
}

// Geocode resolves text. An unmatched query returns Matched=false and no
// error. Provider failures are treated as misses unless ctx is done; a miss
// is only cached when every provider answered.
func (c *CascadeClient) Geocode(ctx context.Context, text string) (*Result, error) {
	text = normalize(text)
	if text == "" {
		return nil, model.Invalidf("location cannot be empty")
	}

	key := cacheKey(text)
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			zap.L().Warn("geocode: cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	clean := true
	for _, candidate := range candidates(text, c.suffixes) {
		for _, p := range c.providers {
			if !p.Available() {
				continue
			}
			r, err := p.Geocode(ctx, candidate)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, eris.Wrap(ctxErr, "geocode: cancelled")
				}
				zap.L().Debug("geocode: provider error, trying next",
					zap.String("provider", p.Name()),
					zap.String("query", candidate),
					zap.Error(err),
				)
				clean = false
				continue
			}
			if r != nil && r.Matched {
				r.Query = text
				if candidate != text {
					zap.L().Debug("geocode: matched with suffix", zap.String("query", text), zap.String("as", candidate))
				}
				c.store(ctx, key, r)
				return r, nil
			}
		}
	}

	miss := &Result{Query: text, Matched: false, Source: "cascade"}
	if clean {
		c.store(ctx, key, miss)
	}
	return miss, nil
}

func (c *CascadeClient) store(ctx context.Context, key string, r *Result) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, r); err != nil {
		zap.L().Warn("geocode: cache write failed", zap.Error(err))
	}
}

// LocateAll geocodes several queries in parallel. Misses come back as
// Matched=false; only cancellation fails the batch.
func (c *CascadeClient) LocateAll(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.batchConcurrency)
	for i, text := range texts {
		eg.Go(func() error {
			r, err := c.Geocode(gCtx, text)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				results[i] = Result{Query: text, Source: "cascade"}
				return nil
			}
			results[i] = *r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Validation is the outcome of checking user-entered location text.
type Validation struct {
	Valid        bool     `json:"valid"`
	Query        string   `json:"query"`
	Lat          *float64 `json:"lat"`
	Lon          *float64 `json:"lon"`
	DisplayName  string   `json:"display_name,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// Validate geocodes text and phrases the outcome for a form field.
func (c *CascadeClient) Validate(ctx context.Context, text string) (*Validation, error) {
	v := &Validation{Query: text}
	clean := normalize(text)
	if clean == "" {
		v.ErrorMessage = "Location cannot be empty"
		return v, nil
	}

	r, err := c.Geocode(ctx, clean)
	if err != nil {
		return nil, err
	}
	if !r.Matched {
		v.ErrorMessage = "Could not find '" + clean + "'. Try being more specific: add city, state, or ZIP code"
		return v, nil
	}
	v.Valid = true
	v.Lat = &r.Latitude
	v.Lon = &r.Longitude
	v.DisplayName = r.DisplayName
	return v, nil
}

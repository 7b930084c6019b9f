package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/analysis"
	"github.com/sells-group/distance-finder/internal/config"
	"github.com/sells-group/distance-finder/internal/db"
	"github.com/sells-group/distance-finder/internal/enrich"
	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/reach"
	"github.com/sells-group/distance-finder/internal/resilience"
	"github.com/sells-group/distance-finder/internal/store"
	"github.com/sells-group/distance-finder/pkg/geocode"
	"github.com/sells-group/distance-finder/pkg/google"
	"github.com/sells-group/distance-finder/pkg/overpass"
	"github.com/sells-group/distance-finder/pkg/valhalla"
)

// appEnv holds the clients and engines shared by the commands.
type appEnv struct {
	Geocoder *geocode.CascadeClient
	Pipeline *analysis.Pipeline
	Breakers *resilience.ServiceBreakers

	// Store and Sampler are nil unless premium search is configured.
	Store   store.Store
	Sampler *enrich.Sampler

	cache *geocode.RedisCache
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.cache != nil {
		_ = e.cache.Close()
	}
}

// initEnv validates the config for mode and builds every collaborator the
// mode needs. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{
		Breakers: resilience.NewServiceBreakers(resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)),
	}

	geo, cache, err := buildGeocoder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env.Geocoder = geo
	env.cache = cache

	order := analysis.RestrictiveFirst
	if cfg.Analysis.Order == "submission" {
		order = analysis.SubmissionOrder
	}
	env.Pipeline = analysis.New(
		analysisConfig(cfg),
		geo,
		buildOverpass(cfg, env.Breakers),
		buildEstimator(cfg, env.Breakers),
		analysis.WithOrder(order),
	)

	if cfg.Google.Key != "" && (mode == "premium" || mode == "serve") {
		st, err := store.Open(ctx, storeConfig(cfg))
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "open usage store")
		}
		env.Store = st
		env.Sampler = enrich.NewSampler(buildDirectory(cfg, st, env.Breakers), enrichConfig(cfg), env.Pipeline.Catalog())
		zap.L().Info("premium search enabled", zap.Int("monthly_limit", cfg.Google.MonthlyLimit))
	} else if mode == "serve" {
		zap.L().Debug("DISTANCE_GOOGLE_KEY not set, premium search disabled")
	}

	return env, nil
}

func retryConfig(c *config.Config) resilience.RetryConfig {
	return resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func analysisConfig(c *config.Config) analysis.Config {
	return analysis.Config{
		MinRadiusMiles:      c.Analysis.MinRadiusMiles,
		MaxRadiusMiles:      c.Analysis.MaxRadiusMiles,
		MaxCriteria:         c.Analysis.MaxCriteria,
		MaxIsochrones:       c.Analysis.MaxIsochrones,
		ReachConcurrency:    c.Analysis.ReachConcurrency,
		PrefetchConcurrency: c.Analysis.PrefetchConcurrency,
		POITimeout:          secs(c.Analysis.POITimeoutSecs),
	}
}

func reachConfig(c *config.Config) reach.Config {
	rc := reach.DefaultConfig()
	if c.Reach.WalkMPH > 0 {
		rc.SpeedsMPH[model.ModeWalk] = c.Reach.WalkMPH
	}
	if c.Reach.BikeMPH > 0 {
		rc.SpeedsMPH[model.ModeBike] = c.Reach.BikeMPH
	}
	if c.Reach.DriveMPH > 0 {
		rc.SpeedsMPH[model.ModeDrive] = c.Reach.DriveMPH
	}
	for mode, mph := range c.Reach.MaxSpeedsMPH {
		if m, err := model.ParseMode(mode); err == nil && mph > 0 {
			rc.MaxSpeedsMPH[m] = mph
		}
	}
	if c.Reach.RouterTimeoutSecs > 0 {
		rc.Timeout = secs(c.Reach.RouterTimeoutSecs)
	}
	return rc
}

func enrichConfig(c *config.Config) enrich.Config {
	return enrich.Config{
		GridThresholdSqMiles: c.Enrich.GridThresholdSqMiles,
		MinRadiusMiles:       c.Enrich.MinRadiusMiles,
		MaxRadiusMiles:       c.Enrich.MaxRadiusMiles,
		CallTimeout:          secs(c.Enrich.CallTimeoutSecs),
		DefaultMaxLocations:  c.Enrich.DefaultMaxLocations,
	}
}

func storeConfig(c *config.Config) store.Config {
	return store.Config{
		Driver: c.Store.Driver,
		DSN:    c.Store.DatabaseURL,
		Pool:   db.PoolConfig{MaxConns: c.Store.MaxConns, MinConns: c.Store.MinConns},
	}
}

// buildGeocoder assembles the provider cascade. The Redis cache is optional
// and a failed dial only disables it.
func buildGeocoder(ctx context.Context, c *config.Config) (*geocode.CascadeClient, *geocode.RedisCache, error) {
	hc := &http.Client{Timeout: secs(c.Geocode.TimeoutSecs)}
	var providers []geocode.Provider
	for _, name := range c.Geocode.Providers {
		switch name {
		case "nominatim":
			providers = append(providers, geocode.NewNominatimProvider(
				geocode.WithNominatimURL(c.Geocode.NominatimURL),
				geocode.WithUserAgent(c.Geocode.UserAgent),
				geocode.WithNominatimHTTPClient(hc),
				geocode.WithNominatimRateLimit(c.Geocode.RateLimitPerSec),
				geocode.WithNominatimRetry(retryConfig(c)),
			))
		case "google":
			providers = append(providers, geocode.NewGoogleProvider(c.Google.Key,
				geocode.WithGoogleURL(c.Google.GeocodeURL),
				geocode.WithGoogleHTTPClient(hc),
				geocode.WithGoogleRateLimit(c.Google.RateLimitPerSec),
				geocode.WithGoogleRetry(retryConfig(c)),
			))
		default:
			return nil, nil, eris.Errorf("unknown geocode provider %q", name)
		}
	}

	opts := []geocode.CascadeOption{geocode.WithCountrySuffixes(c.Geocode.CountrySuffixes)}
	var cache *geocode.RedisCache
	if c.Geocode.RedisAddr != "" {
		var err error
		cache, err = geocode.DialRedisCache(ctx, c.Geocode.RedisAddr, time.Duration(c.Geocode.CacheTTLHours)*time.Hour)
		if err != nil {
			zap.L().Warn("geocode cache unavailable, continuing without it", zap.String("addr", c.Geocode.RedisAddr), zap.Error(err))
			cache = nil
		} else {
			opts = append(opts, geocode.WithCache(cache))
		}
	}
	return geocode.NewCascadeClient(providers, opts...), cache, nil
}

func buildOverpass(c *config.Config, sb *resilience.ServiceBreakers) *overpass.Client {
	return overpass.New(
		overpass.WithURL(c.Overpass.URL),
		overpass.WithTimeout(secs(c.Overpass.TimeoutSecs)),
		overpass.WithRateLimit(c.Overpass.RateLimitPerSec),
		overpass.WithMaxParallel(c.Overpass.MaxParallel),
		overpass.WithRetry(retryConfig(c)),
		overpass.WithBreaker(sb.Get("overpass")),
	)
}

// buildEstimator wires Valhalla in as the router when enabled. Without it
// every travel-time criterion uses the approximation.
func buildEstimator(c *config.Config, sb *resilience.ServiceBreakers) *reach.Estimator {
	var irr reach.Irregularity = reach.Circular
	if c.Reach.Irregular {
		irr = reach.HarmonicIrregularity
	}
	opts := []reach.Option{reach.WithIrregularity(irr)}
	if c.Valhalla.Enabled {
		router := valhalla.New(c.Valhalla.URL,
			valhalla.WithHTTPClient(&http.Client{Timeout: secs(c.Valhalla.TimeoutSecs)}),
			valhalla.WithGeneralize(float64(c.Valhalla.Generalize)),
			valhalla.WithRetry(retryConfig(c)),
		)
		opts = append(opts, reach.WithRouter(router), reach.WithBreaker(sb.Get("valhalla")))
	}
	return reach.New(reachConfig(c), opts...)
}

func buildDirectory(c *config.Config, usage google.UsageCounter, sb *resilience.ServiceBreakers) *google.Directory {
	client := google.NewClient(c.Google.Key,
		google.WithBaseURL(c.Google.PlacesURL),
		google.WithRateLimit(c.Google.RateLimitPerSec),
		google.WithBreaker(sb.Get(google.ServiceName)),
	)
	return google.NewDirectory(client, usage, c.Google.MonthlyLimit)
}

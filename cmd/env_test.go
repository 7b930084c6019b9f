package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distance-finder/internal/model"
)

func TestConfigMapping(t *testing.T) {
	c := withConfig(t, `
analysis:
  max_criteria: 5
  poi_timeout_secs: 12
reach:
  walk_mph: 2.5
  router_timeout_secs: 4
  max_speeds_mph:
    walk: 5
enrich:
  call_timeout_secs: 9
store:
  driver: postgres
  database_url: postgres://localhost/distance
  max_conns: 7
`)

	ac := analysisConfig(c)
	assert.Equal(t, 5, ac.MaxCriteria)
	assert.Equal(t, 12*time.Second, ac.POITimeout)
	assert.InDelta(t, 25.0, ac.MaxRadiusMiles, 1e-9)

	rc := reachConfig(c)
	assert.InDelta(t, 2.5, rc.SpeedsMPH[model.ModeWalk], 1e-9)
	assert.InDelta(t, 12.0, rc.SpeedsMPH[model.ModeBike], 1e-9)
	assert.Equal(t, 4*time.Second, rc.Timeout)
	assert.InDelta(t, 5.0, rc.MaxSpeedsMPH[model.ModeWalk], 1e-9)
	assert.InDelta(t, 65.0, rc.MaxSpeedsMPH[model.ModeDrive], 1e-9)

	ec := enrichConfig(c)
	assert.Equal(t, 9*time.Second, ec.CallTimeout)
	assert.Equal(t, 20, ec.DefaultMaxLocations)

	sc := storeConfig(c)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, "postgres://localhost/distance", sc.DSN)
	assert.Equal(t, int32(7), sc.Pool.MaxConns)

	rt := retryConfig(c)
	assert.Equal(t, 3, rt.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, rt.InitialBackoff)
}

func TestInitEnv_Analyze(t *testing.T) {
	withConfig(t, "")

	env, err := initEnv(context.Background(), "analyze")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Geocoder)
	assert.Nil(t, env.Sampler)
	assert.Nil(t, env.Store)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	withConfig(t, "analysis:\n  order: random\n")

	_, err := initEnv(context.Background(), "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis.order")
}

func TestInitEnv_PremiumOpensStore(t *testing.T) {
	dir := t.TempDir()
	c := withConfig(t, "google:\n  key: test-key\n")
	c.Store.DatabaseURL = filepath.Join(dir, "usage.db")

	env, err := initEnv(context.Background(), "premium")
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Store)
	require.NotNil(t, env.Sampler)

	used, err := env.Store.MonthlyUsage(context.Background(), "google_places", "2026-10")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestInitEnv_PremiumNeedsKey(t *testing.T) {
	withConfig(t, "")

	_, err := initEnv(context.Background(), "premium")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google.key")
}

func TestBuildGeocoder_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c := withConfig(t, "")
	c.Geocode.RedisAddr = mr.Addr()

	geo, cache, err := buildGeocoder(context.Background(), c)
	require.NoError(t, err)
	require.NotNil(t, geo)
	require.NotNil(t, cache)
	assert.NoError(t, cache.Close())
}

func TestBuildGeocoder_RedisDownIsNotFatal(t *testing.T) {
	c := withConfig(t, "")
	c.Geocode.RedisAddr = "127.0.0.1:1"

	geo, cache, err := buildGeocoder(context.Background(), c)
	require.NoError(t, err)
	assert.NotNil(t, geo)
	assert.Nil(t, cache)
}

func TestBuildGeocoder_UnknownProvider(t *testing.T) {
	c := withConfig(t, "")
	c.Geocode.Providers = []string{"bing"}

	_, _, err := buildGeocoder(context.Background(), c)
	assert.Error(t, err)
}

func TestBuildEstimator_Valhalla(t *testing.T) {
	c := withConfig(t, "valhalla:\n  enabled: true\n")
	env, err := initEnv(context.Background(), "analyze")
	require.NoError(t, err)
	defer env.Close()

	est := buildEstimator(c, env.Breakers)
	require.NotNil(t, est)
	assert.Contains(t, env.Breakers.States(), "valhalla")
}

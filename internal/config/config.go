package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	Overpass OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
	Valhalla ValhallaConfig `yaml:"valhalla" mapstructure:"valhalla"`
	Google   GoogleConfig   `yaml:"google" mapstructure:"google"`
	Reach    ReachConfig    `yaml:"reach" mapstructure:"reach"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Circuit  CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the directory usage store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeocodeConfig configures address resolution.
type GeocodeConfig struct {
	// Providers are tried in order. Known: nominatim, google.
	Providers       []string `yaml:"providers" mapstructure:"providers"`
	NominatimURL    string   `yaml:"nominatim_url" mapstructure:"nominatim_url"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RedisAddr       string   `yaml:"redis_addr" mapstructure:"redis_addr"`
	CacheTTLHours   int      `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	CountrySuffixes bool     `yaml:"country_suffixes" mapstructure:"country_suffixes"`
}

// OverpassConfig configures the OSM POI source.
type OverpassConfig struct {
	URL             string  `yaml:"url" mapstructure:"url"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	MaxParallel     int     `yaml:"max_parallel" mapstructure:"max_parallel"`
}

// ValhallaConfig configures the isochrone router. Disabled means every
// travel-time criterion uses the approximation.
type ValhallaConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Generalize  int    `yaml:"generalize" mapstructure:"generalize"`
}

// GoogleConfig holds Google Maps Platform settings shared by the
// geocoder and the Places directory.
type GoogleConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	PlacesURL       string  `yaml:"places_url" mapstructure:"places_url"`
	GeocodeURL      string  `yaml:"geocode_url" mapstructure:"geocode_url"`
	MonthlyLimit    int     `yaml:"monthly_limit" mapstructure:"monthly_limit"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
}

// ReachConfig tunes the travel-reach fallback model.
type ReachConfig struct {
	WalkMPH           float64 `yaml:"walk_mph" mapstructure:"walk_mph"`
	BikeMPH           float64 `yaml:"bike_mph" mapstructure:"bike_mph"`
	DriveMPH          float64 `yaml:"drive_mph" mapstructure:"drive_mph"`
	Irregular         bool    `yaml:"irregular" mapstructure:"irregular"`
	RouterTimeoutSecs int     `yaml:"router_timeout_secs" mapstructure:"router_timeout_secs"`
	// MaxSpeedsMPH bounds real isochrones per mode (walk, bike, drive) when
	// pruning places and sizing POI queries.
	MaxSpeedsMPH map[string]float64 `yaml:"max_speeds_mph" mapstructure:"max_speeds_mph"`
}

// AnalysisConfig bounds a single analysis run.
type AnalysisConfig struct {
	MinRadiusMiles      float64 `yaml:"min_radius_miles" mapstructure:"min_radius_miles"`
	MaxRadiusMiles      float64 `yaml:"max_radius_miles" mapstructure:"max_radius_miles"`
	MaxCriteria         int     `yaml:"max_criteria" mapstructure:"max_criteria"`
	MaxIsochrones       int     `yaml:"max_isochrones" mapstructure:"max_isochrones"`
	ReachConcurrency    int     `yaml:"reach_concurrency" mapstructure:"reach_concurrency"`
	PrefetchConcurrency int     `yaml:"prefetch_concurrency" mapstructure:"prefetch_concurrency"`
	POITimeoutSecs      int     `yaml:"poi_timeout_secs" mapstructure:"poi_timeout_secs"`
	// Order is "restrictive" or "submission".
	Order string `yaml:"order" mapstructure:"order"`
}

// EnrichConfig tunes the premium sampler.
type EnrichConfig struct {
	GridThresholdSqMiles float64 `yaml:"grid_threshold_sq_miles" mapstructure:"grid_threshold_sq_miles"`
	MinRadiusMiles       float64 `yaml:"min_radius_miles" mapstructure:"min_radius_miles"`
	MaxRadiusMiles       float64 `yaml:"max_radius_miles" mapstructure:"max_radius_miles"`
	CallTimeoutSecs      int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	DefaultMaxLocations  int     `yaml:"default_max_locations" mapstructure:"default_max_locations"`
}

// RetryConfig configures retries against external services.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISTANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.timeout_secs", 300)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "distance-finder.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("geocode.providers", []string{"nominatim"})
	v.SetDefault("geocode.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "distance-finder/1.0")
	v.SetDefault("geocode.rate_limit_per_sec", 1.0)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.cache_ttl_hours", 24*30)
	v.SetDefault("geocode.country_suffixes", true)
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout_secs", 30)
	v.SetDefault("overpass.rate_limit_per_sec", 1.0)
	v.SetDefault("overpass.max_parallel", 2)
	v.SetDefault("valhalla.enabled", false)
	v.SetDefault("valhalla.url", "https://valhalla1.openstreetmap.de")
	v.SetDefault("valhalla.timeout_secs", 10)
	v.SetDefault("valhalla.generalize", 50)
	v.SetDefault("google.places_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.geocode_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.monthly_limit", 5000)
	v.SetDefault("google.rate_limit_per_sec", 5.0)
	v.SetDefault("reach.walk_mph", 3.0)
	v.SetDefault("reach.bike_mph", 12.0)
	v.SetDefault("reach.drive_mph", 25.0)
	v.SetDefault("reach.irregular", true)
	v.SetDefault("reach.router_timeout_secs", 10)
	v.SetDefault("reach.max_speeds_mph.walk", 4.0)
	v.SetDefault("reach.max_speeds_mph.bike", 18.0)
	v.SetDefault("reach.max_speeds_mph.drive", 65.0)
	v.SetDefault("analysis.min_radius_miles", 1.0)
	v.SetDefault("analysis.max_radius_miles", 25.0)
	v.SetDefault("analysis.max_criteria", 8)
	v.SetDefault("analysis.max_isochrones", 50)
	v.SetDefault("analysis.reach_concurrency", 8)
	v.SetDefault("analysis.prefetch_concurrency", 4)
	v.SetDefault("analysis.poi_timeout_secs", 30)
	v.SetDefault("analysis.order", "restrictive")
	v.SetDefault("enrich.grid_threshold_sq_miles", 10.0)
	v.SetDefault("enrich.min_radius_miles", 0.25)
	v.SetDefault("enrich.max_radius_miles", 10.0)
	v.SetDefault("enrich.call_timeout_secs", 15)
	v.SetDefault("enrich.default_max_locations", 20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
}

// Validate checks the settings a command needs. mode is one of analyze,
// serve, premium, locate or usage. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for postgres")
		}
	default:
		add("store.driver %q is not sqlite or postgres", c.Store.Driver)
	}

	if len(c.Geocode.Providers) == 0 {
		add("geocode.providers must not be empty")
	}
	for _, p := range c.Geocode.Providers {
		switch p {
		case "nominatim":
		case "google":
			if c.Google.Key == "" {
				add("google.key is required for the google geocoder")
			}
		default:
			add("geocode provider %q is unknown", p)
		}
	}

	if c.Analysis.MinRadiusMiles <= 0 || c.Analysis.MaxRadiusMiles < c.Analysis.MinRadiusMiles {
		add("analysis radius bounds [%g, %g] are invalid", c.Analysis.MinRadiusMiles, c.Analysis.MaxRadiusMiles)
	}
	if c.Analysis.MaxCriteria < 1 {
		add("analysis.max_criteria must be >= 1")
	}
	switch c.Analysis.Order {
	case "restrictive", "submission":
	default:
		add("analysis.order %q is not restrictive or submission", c.Analysis.Order)
	}
	for mode, mph := range c.Reach.MaxSpeedsMPH {
		switch mode {
		case "walk", "bike", "drive":
			if mph <= 0 {
				add("reach.max_speeds_mph.%s must be > 0", mode)
			}
		default:
			add("reach.max_speeds_mph has unknown mode %q", mode)
		}
	}
	if c.Valhalla.Enabled && c.Valhalla.URL == "" {
		add("valhalla.url is required when valhalla is enabled")
	}
	if c.Google.MonthlyLimit < 0 {
		add("google.monthly_limit must be >= 0")
	}

	switch mode {
	case "analyze", "locate", "usage":
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
	case "premium":
		if c.Google.Key == "" {
			add("google.key is required for premium search")
		}
	default:
		add("unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

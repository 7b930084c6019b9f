// Package api exposes the analysis engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/analysis"
	"github.com/sells-group/distance-finder/internal/enrich"
	"github.com/sells-group/distance-finder/internal/resilience"
	"github.com/sells-group/distance-finder/pkg/geocode"
)

// DefaultRadiusMiles is used when an analyze request omits radius_miles.
const DefaultRadiusMiles = 10.0

// LocationValidator checks free-text locations for the search form.
type LocationValidator interface {
	Validate(ctx context.Context, text string) (*geocode.Validation, error)
}

// Config holds the HTTP-facing settings.
type Config struct {
	AllowedOrigins []string
	Timeout        time.Duration
}

// Server routes API requests to the pipeline and its collaborators.
type Server struct {
	cfg       Config
	pipeline  *analysis.Pipeline
	validator LocationValidator
	sampler   *enrich.Sampler
	breakers  *resilience.ServiceBreakers
}

// Option configures a Server.
type Option func(*Server)

// WithSampler enables the premium endpoint.
func WithSampler(s *enrich.Sampler) Option {
	return func(srv *Server) { srv.sampler = s }
}

// WithBreakers reports breaker states on the health endpoint.
func WithBreakers(sb *resilience.ServiceBreakers) Option {
	return func(srv *Server) { srv.breakers = sb }
}

// NewServer creates a Server.
func NewServer(cfg Config, pipeline *analysis.Pipeline, validator LocationValidator, opts ...Option) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	s := &Server{cfg: cfg, pipeline: pipeline, validator: validator}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/poi-types", s.handlePOITypes)
		r.Get("/validate-location", s.handleValidateLocation)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Timeout))
			r.Post("/analyze", s.handleAnalyze)
			r.Post("/pois", s.handlePOIs)
			r.Post("/premium", s.handlePremium)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/handlers"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/middleware"
)

// RouterConfig gathers the handlers and middleware settings of the API.
// Nil handlers leave their routes unmounted.
type RouterConfig struct {
	HealthHandler *handlers.HealthHandler
	RunHandler    *handlers.RunHandler

	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Recorder observes every request.
	Recorder middleware.RequestRecorder
	// RateLimit guards /api/v1 when non-nil.
	RateLimit *middleware.RateLimitConfig
	// BuildTimeout bounds synchronous builds. Zero means no bound.
	BuildTimeout time.Duration

	Logger logging.Logger
}

// NewRouter builds the route tree:
//
//	GET  /healthz, /readyz, /metrics
//	POST /api/v1/builds, /api/v1/jobs
//	GET  /api/v1/runs, /api/v1/runs/{runID}
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	logCfg := middleware.DefaultLoggingConfig()
	logCfg.Metrics = cfg.Recorder
	r.Use(middleware.RequestLogging(cfg.Logger, logCfg))

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimit != nil {
			api.Use(middleware.RateLimit(*cfg.RateLimit))
		}
		registerRunRoutes(api, cfg.RunHandler, cfg.BuildTimeout)
	})
	return r
}

func registerRunRoutes(r chi.Router, h *handlers.RunHandler, buildTimeout time.Duration) {
	if h == nil {
		return
	}
	r.Group(func(b chi.Router) {
		if buildTimeout > 0 {
			b.Use(chimw.Timeout(buildTimeout))
		}
		b.Post("/builds", h.Build)
	})
	r.Post("/jobs", h.Submit)
	r.Route("/runs", func(rr chi.Router) {
		rr.Get("/", h.Search)
		rr.Get("/{runID}", h.Get)
	})
}

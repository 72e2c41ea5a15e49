// Package middleware holds the HTTP middleware of the heatmap API.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
)

// RequestRecorder receives one observation per request.
type RequestRecorder interface {
	RecordRequest(transport, method string, code int, elapsed time.Duration)
}

// LoggingConfig tunes RequestLogging.
type LoggingConfig struct {
	// SkipPaths are not logged, e.g. probes.
	SkipPaths []string
	// SlowThreshold promotes slow successful requests to warn.
	SlowThreshold time.Duration
	// Metrics, when set, records every request including skipped ones.
	Metrics RequestRecorder
}

// DefaultLoggingConfig skips the probes and /metrics.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 30 * time.Second,
	}
}

// RequestLogging logs each request with its status, size and latency.
func RequestLogging(logger logging.Logger, cfg LoggingConfig) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			if cfg.Metrics != nil {
				cfg.Metrics.RecordRequest("http", r.Method+" "+routePattern(r), status, elapsed)
			}
			if skip[r.URL.Path] {
				return
			}

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", status),
				logging.Duration("duration", elapsed),
				logging.Int("bytes", ww.BytesWritten()),
				logging.String("remote_addr", r.RemoteAddr),
				logging.String("request_id", chimw.GetReqID(r.Context())),
			}
			switch {
			case status >= 500:
				logger.Error("http request failed", fields...)
			case status >= 400:
				logger.Warn("http request rejected", fields...)
			case cfg.SlowThreshold > 0 && elapsed >= cfg.SlowThreshold:
				logger.Warn("http request slow", fields...)
			default:
				logger.Info("http request", fields...)
			}
		})
	}
}

// routePattern is the matched chi pattern, keeping metric labels bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

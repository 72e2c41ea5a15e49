package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/handlers"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/middleware"
)

type stubSubmitter struct{ jobs int }

func (s *stubSubmitter) Submit(context.Context, *appHeatmap.BuildJob) error {
	s.jobs++
	return nil
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRouter_Probes(t *testing.T) {
	r := NewRouter(RouterConfig{HealthHandler: handlers.NewHealthHandler("test", nil)})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics", "").Code)
}

func TestNewRouter_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP x"))
	})
	r := NewRouter(RouterConfig{Metrics: metrics})

	rec := serve(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestNewRouter_RunRoutes(t *testing.T) {
	sub := &stubSubmitter{}
	r := NewRouter(RouterConfig{RunHandler: handlers.NewRunHandler(handlers.RunHandlerDeps{Submitter: sub})})

	rec := serve(r, http.MethodPost, "/api/v1/jobs", `{"dataset":"tsp500","instance":"test"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, sub.jobs)

	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/api/v1/runs", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/api/v1/runs/abc", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(r, http.MethodGet, "/api/v1/jobs", "").Code)
}

func TestNewRouter_NilHandlers(t *testing.T) {
	r := NewRouter(RouterConfig{})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/builds", "{}").Code)
}

func TestNewRouter_RateLimitsAPI(t *testing.T) {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = 0.001
	rl.Burst = 1
	r := NewRouter(RouterConfig{
		HealthHandler: handlers.NewHealthHandler("test", nil),
		RunHandler:    handlers.NewRunHandler(handlers.RunHandlerDeps{Submitter: &stubSubmitter{}}),
		RateLimit:     &rl,
	})

	body := `{"dataset":"tsp500","instance":"test"}`
	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/api/v1/jobs", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/api/v1/jobs", body).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "").Code)
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler("v1.2.3", func() bool { return false },
		NewChecker("redis", func(context.Context) error { return fmt.Errorf("down") }))
	rec := httptest.NewRecorder()

	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
}

func TestHealthHandler_Readiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return fmt.Errorf("connection refused") }

	tests := []struct {
		name       string
		ready      ReadyFunc
		checkers   []HealthChecker
		wantCode   int
		wantStatus string
		unhealthy  string
	}{
		{name: "no dependencies", wantCode: http.StatusOK, wantStatus: "ready"},
		{
			name:       "all healthy",
			ready:      func() bool { return true },
			checkers:   []HealthChecker{NewChecker("postgres", ok), NewChecker("redis", ok)},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:       "dependency down",
			checkers:   []HealthChecker{NewChecker("postgres", ok), NewChecker("neo4j", fail)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			unhealthy:  "neo4j",
		},
		{
			name:       "model not loaded",
			ready:      func() bool { return false },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			unhealthy:  "model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("dev", tt.ready, tt.checkers...)
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.unhealthy != "" {
				assert.Equal(t, "unhealthy", resp.Components[tt.unhealthy].Status)
				assert.NotEmpty(t, resp.Components[tt.unhealthy].Error)
			}
		})
	}
}

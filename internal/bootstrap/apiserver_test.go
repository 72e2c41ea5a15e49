package bootstrap

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

func TestRouter_Endpoints(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	require.NoError(t, a.InitBuilder(context.Background()))
	h := a.Router("test")

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		// No Kafka, OpenSearch or Postgres configured.
		{http.MethodPost, "/api/v1/jobs", `{"dataset":"rei","instance":"a","scale":20}`, http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/runs", "", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/runs/abc", "", http.StatusServiceUnavailable},
		{http.MethodPost, "/api/v1/builds", `{"dataset":"rei","instance":"absent","scale":20}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	a := newTestApp(t, cfg)
	require.NoError(t, a.InitBuilder(context.Background()))

	rec := httptest.NewRecorder()
	a.Router("test").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAPIServer(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunAPIServer(ctx, a, ServeOptions{Version: "test", HTTPListener: httpLis, GRPCListener: grpcLis})
	}()

	url := "http://" + httpLis.Addr().String() + "/readyz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	conn, err := grpc.DialContext(ctx, grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	rpcCtx, rpcCancel := context.WithTimeout(ctx, 5*time.Second)
	defer rpcCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(rpcCtx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("apiserver did not stop")
	}
}

func TestRunWorker_RequiresKafka(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	err := RunWorker(context.Background(), a, WorkerOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

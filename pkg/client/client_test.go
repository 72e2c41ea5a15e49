package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetryWait(time.Millisecond, 2*time.Millisecond)}, opts...)
	c, err := NewClient(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "://bad"} {
		_, err := NewClient(u)
		require.Error(t, err, u)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidParam), u)
	}
	c, err := NewClient("https://heatmap.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://heatmap.example.com", c.baseURL)
	assert.Same(t, c.Builds(), c.Builds())
	assert.Same(t, c.Runs(), c.Runs())
}

func TestBuilds_Run(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/builds", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req BuildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, BuildRequest{Dataset: "tsp500", Instance: "test", Scale: 500, K: 50}, req)

		_, _ = w.Write([]byte(`{"run_id":"r1","status":"succeeded","avg_mean_rank":1.8,
			"request":{"dataset":"tsp500","instance":"test","scale":500},
			"results":[{"index":0,"n":500,"clusters":12,"file":"heatmap/tsp500/500_0.txt",
			"stats":{"mean_rank":1.8,"false_negative_edges":3,"density":0.1},"cached":true}]}`))
	}, WithAPIKey("secret"))

	report, err := c.Builds().Run(context.Background(), BuildRequest{Dataset: "tsp500", Instance: "test", Scale: 500, K: 50})
	require.NoError(t, err)
	assert.Equal(t, "r1", report.RunID)
	assert.Equal(t, "tsp500", report.Request.Dataset)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Cached)
	assert.Equal(t, 3, report.Results[0].Stats.FalseNegativeEdges)
}

func TestBuilds_InvalidRequestIsNotSent(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { atomic.AddInt32(&calls, 1) })

	_, err := c.Builds().Run(context.Background(), BuildRequest{Dataset: "tsp50"})
	require.Error(t, err)
	_, err = c.Builds().Submit(context.Background(), BuildRequest{Dataset: "tsp50", Instance: "x", K: -1})
	require.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestBuilds_SubmitIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Builds().Submit(context.Background(), BuildRequest{Dataset: "tsp50", Instance: "test"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBuilds_Submit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"j-1"}`))
	})
	job, err := c.Builds().Submit(context.Background(), BuildRequest{Dataset: "tsp50", Instance: "test"})
	require.NoError(t, err)
	assert.Equal(t, "j-1", job.JobID)
}

func TestRuns_GetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/a%2Fb", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"NOT_FOUND","message":"build run not found","detail":"a/b"}`))
	})

	_, err := c.Runs().Get(context.Background(), "a/b")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "a/b", apiErr.Detail)
	assert.Contains(t, apiErr.Error(), "build run not found: a/b")

	_, err = c.Runs().Get(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestRuns_SearchQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tsp100", q.Get("dataset"))
		assert.Equal(t, "succeeded", q.Get("status"))
		assert.Equal(t, "2.5", q.Get("max_mean_rank"))
		assert.Equal(t, "5", q.Get("size"))
		assert.Empty(t, q.Get("instance"))
		_, _ = w.Write([]byte(`{"total":1,"runs":[{"run_id":"r9","dataset":"tsp100","avg_mean_rank":2.1}]}`))
	})

	page, err := c.Runs().Search(context.Background(), RunFilter{Dataset: "tsp100", Status: "succeeded", MaxMeanRank: 2.5, Size: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Runs, 1)
	assert.Equal(t, "r9", page.Runs[0].RunID)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"total":0,"runs":[]}`))
	})

	_, err := c.Runs().Search(context.Background(), RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGet_GivesUpAfterRetryMax(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}, WithRetryMax(1))

	_, err := c.Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGet_UnavailableIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"UNAVAILABLE","message":"run index is not configured"}`))
	})

	_, err := c.Runs().Search(context.Background(), RunFilter{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsUnavailable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGet_RateLimitedWithoutRetryAfter(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"slow down"}`))
	})

	_, err := c.Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimited())
	assert.False(t, apiErr.IsServerError())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestReady(t *testing.T) {
	ready := true
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if ready {
			_, _ = w.Write([]byte(`{"status":"ready","components":{"redis":{"status":"healthy"}}}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready","components":{"model":{"status":"unhealthy","error":"model not loaded"}}}`))
	})

	r, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", r.Status)
	assert.Equal(t, "healthy", r.Components["redis"].Status)

	ready = false
	r, err = c.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "not_ready", r.Status)
	assert.Equal(t, "model not loaded", r.Components["model"].Error)
}

func TestContextCancelStopsRetries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetryWait(time.Second, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Health(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOptions(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c, err := NewClient("http://localhost",
		WithHTTPClient(hc), WithUserAgent("ua/1"), WithRetryMax(-1), WithRetryWait(time.Second, time.Millisecond))
	require.NoError(t, err)
	assert.Same(t, hc, c.httpClient)
	assert.Equal(t, "ua/1", c.userAgent)
	assert.Equal(t, 3, c.retryMax)
	assert.Equal(t, time.Second, c.retryWaitMin)
	assert.Equal(t, 5*time.Second, c.retryWaitMax)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/search/opensearch"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

type mockService struct{ mock.Mock }

func (m *mockService) BuildDataset(ctx context.Context, req appHeatmap.BuildRequest) (*appHeatmap.BuildReport, error) {
	args := m.Called(ctx, req)
	report, _ := args.Get(0).(*appHeatmap.BuildReport)
	return report, args.Error(1)
}

func (m *mockService) BuildInstances(ctx context.Context, req appHeatmap.BuildRequest, in []*instance.Instance) (*appHeatmap.BuildReport, error) {
	args := m.Called(ctx, req, in)
	report, _ := args.Get(0).(*appHeatmap.BuildReport)
	return report, args.Error(1)
}

type mockSubmitter struct{ mock.Mock }

func (m *mockSubmitter) Submit(ctx context.Context, job *appHeatmap.BuildJob) error {
	return m.Called(ctx, job).Error(0)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Search(ctx context.Context, q opensearch.RunQuery) (*opensearch.RunPage, error) {
	args := m.Called(ctx, q)
	page, _ := args.Get(0).(*opensearch.RunPage)
	return page, args.Error(1)
}

type mockReader struct{ mock.Mock }

func (m *mockReader) GetRun(ctx context.Context, id string) (*appHeatmap.BuildReport, error) {
	args := m.Called(ctx, id)
	report, _ := args.Get(0).(*appHeatmap.BuildReport)
	return report, args.Error(1)
}

func routes(h *RunHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/builds", h.Build)
	r.Post("/jobs", h.Submit)
	r.Get("/runs", h.Search)
	r.Get("/runs/{runID}", h.Get)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestRunHandler_Build(t *testing.T) {
	svc := new(mockService)
	want := appHeatmap.BuildRequest{Dataset: "tsp500", Instance: "test", Scale: 500, K: 50}
	svc.On("BuildDataset", mock.Anything, want).
		Return(&appHeatmap.BuildReport{RunID: "run-1", Request: want, Status: appHeatmap.StatusSucceeded}, nil)
	h := routes(NewRunHandler(RunHandlerDeps{Service: svc}))

	rec, body := do(t, h, http.MethodPost, "/builds", `{"dataset":"tsp500","instance":"test","scale":500,"k":50}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", body["run_id"])
	svc.AssertExpectations(t)
}

func TestRunHandler_Build_Errors(t *testing.T) {
	svc := new(mockService)
	svc.On("BuildDataset", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.CodeInstanceFileNotFound, "instance file not found").WithDetail("data/tsp500/x.txt"))
	h := routes(NewRunHandler(RunHandlerDeps{Service: svc}))

	rec, body := do(t, h, http.MethodPost, "/builds", `{"dataset":"tsp500","instance":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(errors.CodeInstanceFileNotFound), body["code"])
	assert.Equal(t, "data/tsp500/x.txt", body["detail"])

	rec, _ = do(t, h, http.MethodPost, "/builds", `{"instance":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/builds", `{"dataset":"d","instance":"x","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, routes(NewRunHandler(RunHandlerDeps{})), http.MethodPost, "/builds", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunHandler_Build_MasksInternalErrors(t *testing.T) {
	svc := new(mockService)
	svc.On("BuildDataset", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.CodeInferenceFailed, "matrix dimension mismatch in layer 3"))
	h := routes(NewRunHandler(RunHandlerDeps{Service: svc}))

	rec, body := do(t, h, http.MethodPost, "/builds", `{"dataset":"d","instance":"i"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["message"])
}

func TestRunHandler_Submit(t *testing.T) {
	sub := new(mockSubmitter)
	sub.On("Submit", mock.Anything, mock.MatchedBy(func(j *appHeatmap.BuildJob) bool {
		return j.Dataset == "tsp500" && j.Instance == "test" && j.JobID != ""
	})).Return(nil)
	h := routes(NewRunHandler(RunHandlerDeps{Submitter: sub}))

	rec, body := do(t, h, http.MethodPost, "/jobs", `{"dataset":"tsp500","instance":"test"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, body["job_id"])
	sub.AssertExpectations(t)
}

func TestRunHandler_Submit_BrokerError(t *testing.T) {
	sub := new(mockSubmitter)
	sub.On("Submit", mock.Anything, mock.Anything).Return(errors.New(errors.CodeMessaging, "broker unreachable"))
	h := routes(NewRunHandler(RunHandlerDeps{Submitter: sub}))

	rec, _ := do(t, h, http.MethodPost, "/jobs", `{"dataset":"tsp500","instance":"test"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRunHandler_Search(t *testing.T) {
	s := new(mockSearcher)
	s.On("Search", mock.Anything, opensearch.RunQuery{Dataset: "tsp500", Status: "succeeded", MaxMeanRank: 2.5, Size: 5}).
		Return(&opensearch.RunPage{Total: 1, Runs: []opensearch.RunSummary{{RunID: "run-1"}}}, nil)
	h := routes(NewRunHandler(RunHandlerDeps{Searcher: s}))

	rec, body := do(t, h, http.MethodGet, "/runs?dataset=tsp500&status=succeeded&max_mean_rank=2.5&size=5", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
	s.AssertExpectations(t)

	rec, _ = do(t, h, http.MethodGet, "/runs?size=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/runs?max_mean_rank=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandler_Get(t *testing.T) {
	r := new(mockReader)
	r.On("GetRun", mock.Anything, "run-1").Return(&appHeatmap.BuildReport{RunID: "run-1", Status: appHeatmap.StatusFailed}, nil)
	r.On("GetRun", mock.Anything, "missing").Return(nil, errors.NotFound("build run not found"))
	h := routes(NewRunHandler(RunHandlerDeps{Reader: r}))

	rec, body := do(t, h, http.MethodGet, "/runs/run-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appHeatmap.StatusFailed, body["status"])

	rec, _ = do(t, h, http.MethodGet, "/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/search/opensearch"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// JobSubmitter queues a build for the workers.
type JobSubmitter interface {
	Submit(ctx context.Context, job *appHeatmap.BuildJob) error
}

// RunSearcher queries indexed run summaries.
type RunSearcher interface {
	Search(ctx context.Context, q opensearch.RunQuery) (*opensearch.RunPage, error)
}

// RunReader loads a stored run by id.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*appHeatmap.BuildReport, error)
}

// RunHandlerDeps are the collaborators of RunHandler. Any of them may be
// nil; the matching endpoint then answers 503.
type RunHandlerDeps struct {
	Service   appHeatmap.Service
	Submitter JobSubmitter
	Searcher  RunSearcher
	Reader    RunReader
	Logger    logging.Logger
}

// RunHandler serves builds, jobs and run lookups under /api/v1.
type RunHandler struct {
	deps   RunHandlerDeps
	logger logging.Logger
}

// NewRunHandler builds the handler.
func NewRunHandler(deps RunHandlerDeps) *RunHandler {
	log := deps.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunHandler{deps: deps, logger: log.Named("run_handler")}
}

// Build handles POST /builds: runs a build synchronously.
func (h *RunHandler) Build(w http.ResponseWriter, r *http.Request) {
	if h.deps.Service == nil {
		writeAppError(w, errors.Unavailable("build service is not configured"))
		return
	}
	var req appHeatmap.BuildRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeAppError(w, err)
		return
	}
	report, err := h.deps.Service.BuildDataset(r.Context(), req)
	if err != nil {
		h.logger.Warn("build failed", logging.String("dataset", req.Dataset), logging.Err(err))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SubmitResponse is the body of an accepted job.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// Submit handles POST /jobs: queues a build and answers 202.
func (h *RunHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Submitter == nil {
		writeAppError(w, errors.Unavailable("job queue is not configured"))
		return
	}
	var req appHeatmap.BuildRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeAppError(w, err)
		return
	}
	job := appHeatmap.NewBuildJob(req)
	if err := h.deps.Submitter.Submit(r.Context(), job); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.JobID})
}

// Search handles GET /runs?dataset=&instance=&status=&max_mean_rank=&size=.
func (h *RunHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.deps.Searcher == nil {
		writeAppError(w, errors.Unavailable("run index is not configured"))
		return
	}
	q, err := parseRunQuery(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	page, err := h.deps.Searcher.Search(r.Context(), q)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get handles GET /runs/{runID}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reader == nil {
		writeAppError(w, errors.Unavailable("run store is not configured"))
		return
	}
	report, err := h.deps.Reader.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseRunQuery(r *http.Request) (opensearch.RunQuery, error) {
	v := r.URL.Query()
	q := opensearch.RunQuery{
		Dataset:  v.Get("dataset"),
		Instance: v.Get("instance"),
		Status:   v.Get("status"),
	}
	if s := v.Get("max_mean_rank"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return q, errors.InvalidParam("max_mean_rank must be a non-negative number").WithDetail(s)
		}
		q.MaxMeanRank = f
	}
	if s := v.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, errors.InvalidParam("size must be a non-negative integer").WithDetail(s)
		}
		q.Size = n
	}
	return q, nil
}

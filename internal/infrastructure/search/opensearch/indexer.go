package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// DefaultIndex is used when the configuration leaves the index name empty.
const DefaultIndex = "heatmap-runs"

const runMapping = `{
  "settings": {"number_of_shards": 1, "number_of_replicas": 0},
  "mappings": {
    "properties": {
      "run_id":        {"type": "keyword"},
      "job_id":        {"type": "keyword"},
      "dataset":       {"type": "keyword"},
      "instance":      {"type": "keyword"},
      "status":        {"type": "keyword"},
      "error":         {"type": "text"},
      "scale":         {"type": "integer"},
      "k":             {"type": "integer"},
      "k_expand":      {"type": "integer"},
      "batch_size":    {"type": "integer"},
      "instances":     {"type": "integer"},
      "cached":        {"type": "integer"},
      "avg_mean_rank": {"type": "double"},
      "best_mean_rank":  {"type": "double"},
      "worst_mean_rank": {"type": "double"},
      "false_negative_edges": {"type": "long"},
      "files":         {"type": "keyword"},
      "started_at":    {"type": "date"},
      "duration_ms":   {"type": "long"}
    }
  }
}`

// RunSummary is the document stored per build run.
type RunSummary struct {
	RunID              string    `json:"run_id"`
	JobID              string    `json:"job_id,omitempty"`
	Dataset            string    `json:"dataset"`
	Instance           string    `json:"instance"`
	Status             string    `json:"status"`
	Error              string    `json:"error,omitempty"`
	Scale              int       `json:"scale"`
	K                  int       `json:"k"`
	KExpand            int       `json:"k_expand"`
	BatchSize          int       `json:"batch_size"`
	Instances          int       `json:"instances"`
	Cached             int       `json:"cached"`
	AvgMeanRank        float64   `json:"avg_mean_rank"`
	BestMeanRank       *float64  `json:"best_mean_rank,omitempty"`
	WorstMeanRank      *float64  `json:"worst_mean_rank,omitempty"`
	FalseNegativeEdges int64     `json:"false_negative_edges"`
	Files              []string  `json:"files"`
	StartedAt          time.Time `json:"started_at"`
	DurationMs         int64     `json:"duration_ms"`
}

// SummaryFromReport condenses report into its search document.
func SummaryFromReport(report *appHeatmap.BuildReport) RunSummary {
	req := report.Request
	s := RunSummary{
		RunID:       report.RunID,
		JobID:       req.JobID,
		Dataset:     req.Dataset,
		Instance:    req.Instance,
		Status:      report.Status,
		Error:       report.Error,
		Scale:       req.Scale,
		K:           req.K,
		KExpand:     req.KExpand,
		BatchSize:   req.BatchSize,
		Instances:   len(report.Results),
		AvgMeanRank: report.AvgMeanRank,
		Files:       report.Files(),
		StartedAt:   report.StartedAt,
		DurationMs:  report.Duration.Milliseconds(),
	}
	for _, r := range report.Results {
		if r == nil {
			continue
		}
		if r.Cached {
			s.Cached++
		}
		if r.Stats == nil {
			continue
		}
		rank := r.Stats.MeanRank
		if s.BestMeanRank == nil || rank < *s.BestMeanRank {
			s.BestMeanRank = &rank
		}
		if s.WorstMeanRank == nil || rank > *s.WorstMeanRank {
			s.WorstMeanRank = &rank
		}
		s.FalseNegativeEdges += int64(r.Stats.FalseNegativeEdges)
	}
	return s
}

// RunIndex stores one RunSummary per build run, keyed by run id.
type RunIndex struct {
	client  *Client
	index   string
	refresh string
	logger  logging.Logger
}

// NewRunIndex writes to index, or DefaultIndex when it is empty. refresh is
// passed to every index request ("", "true", "wait_for").
func NewRunIndex(client *Client, index, refresh string, log logging.Logger) *RunIndex {
	if index == "" {
		index = DefaultIndex
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunIndex{client: client, index: index, refresh: refresh, logger: log.Named("run_index")}
}

var _ appHeatmap.SummaryIndex = (*RunIndex)(nil)

// Name returns the index name.
func (x *RunIndex) Name() string { return x.index }

// Exists reports whether the index is present.
func (x *RunIndex) Exists(ctx context.Context) (bool, error) {
	resp, err := x.client.api.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{x.index}})
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		}
	}
	if err == nil {
		err = errors.New(errors.CodeSearchIndex, "unexpected status")
	}
	return false, errors.Wrap(err, errors.CodeSearchIndex, "check index").WithDetail(x.index)
}

// EnsureIndex creates the index with its mapping unless it exists.
func (x *RunIndex) EnsureIndex(ctx context.Context) error {
	exists, err := x.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := x.client.api.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: x.index,
		Body:  bytes.NewReader([]byte(runMapping)),
	}); err != nil {
		return errors.Wrap(err, errors.CodeSearchIndex, "create index").WithDetail(x.index)
	}
	x.logger.Info("index created", logging.String("index", x.index))
	return nil
}

// IndexRun upserts the summary of report.
func (x *RunIndex) IndexRun(ctx context.Context, report *appHeatmap.BuildReport) error {
	if report == nil || report.RunID == "" {
		return errors.InvalidParam("run summary needs a run id")
	}
	body, err := json.Marshal(SummaryFromReport(report))
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode run summary")
	}
	if _, err := x.client.api.Index(ctx, opensearchapi.IndexReq{
		Index:      x.index,
		DocumentID: report.RunID,
		Body:       bytes.NewReader(body),
		Params:     opensearchapi.IndexParams{Refresh: x.refresh},
	}); err != nil {
		return errors.Wrap(err, errors.CodeSearchIndex, "index run summary").WithDetail(report.RunID)
	}
	x.logger.Debug("run summary indexed", logging.String("run_id", report.RunID))
	return nil
}

package heatmap

import (
	"strings"
	"time"

	"github.com/google/uuid"

	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/gcn"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Tour sources recorded on InstanceResult.
const (
	TourFromInstance  = "instance"
	TourFromReference = "reference"
	TourNone          = "none"
)

// Options are the builder defaults. Request fields left at zero fall back to
// them.
type Options struct {
	DataDir        string
	HeatmapDir     string
	IndexedDataset string

	K         int
	KExpand   int
	BatchSize int
	Seed      int64

	// Concurrency bounds the instances built at once; 1 keeps file order.
	Concurrency     int
	InstanceTimeout time.Duration

	SkipStatistics bool
	StrictSinks    bool
	CacheEnabled   bool
	LockTTL        time.Duration
	GraphTopK      int

	Tour instance.TourOptions
}

// DefaultOptions mirrors the command-line defaults of the builder.
func DefaultOptions() Options {
	return Options{
		DataDir:        "data",
		HeatmapDir:     "heatmap",
		IndexedDataset: domainHeatmap.IndexedDataset,
		K:              50,
		KExpand:        99,
		BatchSize:      gcn.DefaultBatchSize,
		Seed:           1,
		Concurrency:    1,
		LockTTL:        10 * time.Minute,
		GraphTopK:      10,
		Tour:           instance.DefaultTourOptions(),
	}
}

// BuildRequest selects an instance file and the sampling sizes.
type BuildRequest struct {
	// JobID correlates a request that arrived as a BuildJob.
	JobID     string `json:"job_id,omitempty"`
	Dataset   string `json:"dataset"`
	Instance  string `json:"instance"`
	Scale     int    `json:"scale"`
	BatchSize int    `json:"batch_size,omitempty"`
	K         int    `json:"k,omitempty"`
	KExpand   int    `json:"k_expand,omitempty"`
}

// Validate checks the fields a caller must set. Zero batch size, k and
// k_expand are allowed; the service fills them from its options. Dataset and
// instance name one directory and one file, so they must be plain names.
func (r BuildRequest) Validate() error {
	switch {
	case r.Dataset == "":
		return errors.InvalidParam("dataset is required")
	case r.Instance == "":
		return errors.InvalidParam("instance is required")
	case !plainName(r.Dataset):
		return errors.InvalidParam("dataset must be a plain name").WithDetail(r.Dataset)
	case !plainName(r.Instance):
		return errors.InvalidParam("instance must be a plain name").WithDetail(r.Instance)
	case r.Scale < 0:
		return errors.InvalidParam("scale must not be negative")
	case r.BatchSize < 0 || r.K < 0 || r.KExpand < 0:
		return errors.InvalidParam("batch_size, k and k_expand must not be negative")
	}
	return nil
}

// plainName reports whether s can be joined under a base directory without
// leaving it.
func plainName(s string) bool {
	if s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00") && !strings.Contains(s, "..")
}

// resolve fills zero fields from o and validates the result.
func (r BuildRequest) resolve(o Options) (BuildRequest, error) {
	if r.BatchSize <= 0 {
		r.BatchSize = o.BatchSize
	}
	if r.K <= 0 {
		r.K = o.K
	}
	if r.KExpand <= 0 {
		r.KExpand = o.KExpand
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	switch {
	case r.K < 2:
		return r, errors.InvalidParam("k must be at least 2").WithDetailf("k=%d", r.K)
	case r.KExpand < r.K-1:
		return r, errors.InvalidParam("k_expand must be at least k-1").WithDetailf("k=%d k_expand=%d", r.K, r.KExpand)
	}
	return r, nil
}

// InstanceRef identifies one instance of a build.
type InstanceRef struct {
	RunID       string `json:"run_id"`
	Dataset     string `json:"dataset"`
	Instance    string `json:"instance"`
	Index       int    `json:"index"`
	Fingerprint string `json:"fingerprint"`
}

// InstanceResult describes one built heatmap.
type InstanceResult struct {
	Index       int                       `json:"index"`
	N           int                       `json:"n"`
	Clusters    int                       `json:"clusters"`
	File        string                    `json:"file"`
	Stats       *domainHeatmap.Statistics `json:"stats,omitempty"`
	TourSource  string                    `json:"tour_source"`
	TourLength  float64                   `json:"tour_length,omitempty"`
	Fingerprint string                    `json:"fingerprint"`
	ArtifactURI string                    `json:"artifact_uri,omitempty"`
	Cached      bool                      `json:"cached"`
	Duration    time.Duration             `json:"duration"`
}

// BuildRun is the record created when a build starts.
type BuildRun struct {
	ID        string       `json:"id"`
	Request   BuildRequest `json:"request"`
	Instances int          `json:"instances"`
	StartedAt time.Time    `json:"started_at"`
}

// BuildReport summarises a finished build.
type BuildReport struct {
	RunID       string            `json:"run_id"`
	Request     BuildRequest      `json:"request"`
	Status      string            `json:"status"`
	Error       string            `json:"error,omitempty"`
	Results     []*InstanceResult `json:"results"`
	AvgMeanRank float64           `json:"avg_mean_rank"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
}

// Files lists the written heatmap paths in instance order.
func (r *BuildReport) Files() []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res != nil {
			out = append(out, res.File)
		}
	}
	return out
}

// BuildCompleted is published once per finished build.
type BuildCompleted struct {
	RunID       string    `json:"run_id"`
	JobID       string    `json:"job_id,omitempty"`
	Dataset     string    `json:"dataset"`
	Instance    string    `json:"instance"`
	Scale       int       `json:"scale"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Instances   int       `json:"instances"`
	AvgMeanRank float64   `json:"avg_mean_rank"`
	DurationMs  int64     `json:"duration_ms"`
	Files       []string  `json:"files"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompletedEvent converts r into its completion event.
func (r *BuildReport) CompletedEvent() *BuildCompleted {
	return &BuildCompleted{
		RunID:       r.RunID,
		JobID:       r.Request.JobID,
		Dataset:     r.Request.Dataset,
		Instance:    r.Request.Instance,
		Scale:       r.Request.Scale,
		Status:      r.Status,
		Error:       r.Error,
		Instances:   len(r.Results),
		AvgMeanRank: r.AvgMeanRank,
		DurationMs:  r.Duration.Milliseconds(),
		Files:       r.Files(),
		CompletedAt: r.StartedAt.Add(r.Duration),
	}
}

// BuildJob is the message a worker consumes to run one build.
type BuildJob struct {
	JobID     string `json:"job_id"`
	Dataset   string `json:"dataset"`
	Instance  string `json:"instance"`
	Scale     int    `json:"scale"`
	BatchSize int    `json:"batch_size,omitempty"`
	K         int    `json:"k,omitempty"`
	KExpand   int    `json:"k_expand,omitempty"`
}

// NewBuildJob wraps req with a fresh job id.
func NewBuildJob(req BuildRequest) *BuildJob {
	return &BuildJob{
		JobID:     uuid.NewString(),
		Dataset:   req.Dataset,
		Instance:  req.Instance,
		Scale:     req.Scale,
		BatchSize: req.BatchSize,
		K:         req.K,
		KExpand:   req.KExpand,
	}
}

// Request returns the build request carried by j.
func (j *BuildJob) Request() BuildRequest {
	return BuildRequest{
		JobID:     j.JobID,
		Dataset:   j.Dataset,
		Instance:  j.Instance,
		Scale:     j.Scale,
		BatchSize: j.BatchSize,
		K:         j.K,
		KExpand:   j.KExpand,
	}
}

package client

import "time"

// BuildRequest names one instance file. Zero BatchSize, K and KExpand take
// the server defaults.
type BuildRequest struct {
	Dataset   string `json:"dataset"`
	Instance  string `json:"instance"`
	Scale     int    `json:"scale"`
	BatchSize int    `json:"batch_size,omitempty"`
	K         int    `json:"k,omitempty"`
	KExpand   int    `json:"k_expand,omitempty"`
}

// Statistics scores a heatmap against the instance's reference tour.
type Statistics struct {
	MeanRank           float64 `json:"mean_rank"`
	FalseNegativeEdges int     `json:"false_negative_edges"`
	Density            float64 `json:"density"`
}

// InstanceResult describes the heatmap written for one instance.
type InstanceResult struct {
	Index       int           `json:"index"`
	N           int           `json:"n"`
	Clusters    int           `json:"clusters"`
	File        string        `json:"file"`
	Stats       *Statistics   `json:"stats,omitempty"`
	TourSource  string        `json:"tour_source"`
	TourLength  float64       `json:"tour_length,omitempty"`
	Fingerprint string        `json:"fingerprint"`
	ArtifactURI string        `json:"artifact_uri,omitempty"`
	Cached      bool          `json:"cached"`
	Duration    time.Duration `json:"duration"`
}

// BuildReport is the outcome of one build run.
type BuildReport struct {
	RunID   string `json:"run_id"`
	Request struct {
		JobID string `json:"job_id,omitempty"`
		BuildRequest
	} `json:"request"`
	Status      string            `json:"status"`
	Error       string            `json:"error,omitempty"`
	Results     []*InstanceResult `json:"results"`
	AvgMeanRank float64           `json:"avg_mean_rank"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
}

// Job is an accepted asynchronous build.
type Job struct {
	JobID string `json:"job_id"`
}

// RunFilter narrows a run search. Zero fields do not filter.
type RunFilter struct {
	Dataset     string
	Instance    string
	Status      string
	MaxMeanRank float64
	Size        int
}

// RunSummary is the indexed digest of a run.
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

// RunPage is one page of runs, newest first.
type RunPage struct {
	Total int          `json:"total"`
	Runs  []RunSummary `json:"runs"`
}

// Liveness is the /healthz body.
type Liveness struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ComponentCheck is the readiness of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Readiness is the /readyz body.
type Readiness struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

package heatmap

import (
	"context"
	"time"

	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/gcn"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/sampling"
)

// Predictor turns clusters into per-cluster edge probabilities.
// *gcn.Engine satisfies it.
type Predictor interface {
	Predict(ctx context.Context, clusters []*sampling.Cluster, batchSize int) ([]gcn.Probabilities, error)
}

// ArtifactStore keeps a copy of every written heatmap and returns its
// location.
type ArtifactStore interface {
	PutHeatmap(ctx context.Context, key string, data []byte) (string, error)
}

// CachedHeatmap is the cache entry for one built instance.
type CachedHeatmap struct {
	N        int                       `json:"n"`
	Clusters int                       `json:"clusters"`
	Stats    *domainHeatmap.Statistics `json:"stats,omitempty"`
	Tour     string                    `json:"tour_source"`
	TourLen  float64                   `json:"tour_length,omitempty"`
	Data     []byte                    `json:"data"`
}

// HeatmapCache stores encoded heatmaps by build key. Get returns an error
// with code CodeCacheMiss when the key is absent.
type HeatmapCache interface {
	Get(ctx context.Context, key string) (*CachedHeatmap, error)
	Set(ctx context.Context, key string, entry *CachedHeatmap) error
}

// BuildLocker serialises builds of the same key across processes. Acquire
// fails with CodeBuildLocked when another holder owns the key.
type BuildLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RunRepository persists build runs and their per-instance results.
type RunRepository interface {
	CreateRun(ctx context.Context, run *BuildRun) error
	SaveResult(ctx context.Context, runID string, result *InstanceResult) error
	CompleteRun(ctx context.Context, report *BuildReport) error
}

// EventPublisher announces finished builds.
type EventPublisher interface {
	PublishBuildCompleted(ctx context.Context, event *BuildCompleted) error
}

// CandidateGraphStore exports the heaviest heatmap edges per node.
type CandidateGraphStore interface {
	SaveCandidates(ctx context.Context, ref InstanceRef, edges [][]domainHeatmap.Edge) error
}

// SummaryIndex makes finished runs searchable.
type SummaryIndex interface {
	IndexRun(ctx context.Context, report *BuildReport) error
}

// Metrics receives builder observations.
type Metrics interface {
	ObserveInstance(dataset string, result *InstanceResult)
	ObserveBuild(dataset, status string, elapsed time.Duration)
	CacheResult(hit bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveInstance(string, *InstanceResult)    {}
func (noopMetrics) ObserveBuild(string, string, time.Duration) {}
func (noopMetrics) CacheResult(bool)                           {}

// NewNoopMetrics returns a Metrics that drops everything.
func NewNoopMetrics() Metrics { return noopMetrics{} }

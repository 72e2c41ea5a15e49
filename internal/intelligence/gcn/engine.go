package gcn

import (
	"context"
	"time"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/common"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/sampling"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// DefaultBatchSize is the number of clusters per forward pass.
const DefaultBatchSize = 16

// ModelProvider hands out the current model.
type ModelProvider interface {
	Model() (*Model, error)
}

// Engine runs clusters through the model in mini-batches.
type Engine struct {
	models    ModelProvider
	processor common.BatchProcessor[[]*sampling.Cluster, []Probabilities]
	metrics   common.IntelligenceMetrics
	logger    logging.Logger
}

// EngineOptions tune the batch processor behind the engine.
type EngineOptions struct {
	// Concurrency bounds the forward passes running at once.
	Concurrency int
	// BatchTimeout bounds a single forward pass; zero means no limit.
	BatchTimeout time.Duration
}

// NewEngine builds an Engine on top of models.
func NewEngine(models ModelProvider, opts EngineOptions, logger logging.Logger, metrics common.IntelligenceMetrics) (*Engine, error) {
	if models == nil {
		return nil, errors.InvalidParam("model provider is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = common.NewNoopIntelligenceMetrics()
	}
	bopts := []common.BatchOption{
		common.WithName("gcn_forward"),
		common.WithMaxConcurrency(opts.Concurrency),
		common.WithBatchLogger(logger),
		common.WithBatchMetrics(metrics),
	}
	if opts.BatchTimeout > 0 {
		bopts = append(bopts, common.WithItemTimeout(opts.BatchTimeout))
	}
	proc, err := common.NewBatchProcessor[[]*sampling.Cluster, []Probabilities](bopts...)
	if err != nil {
		return nil, err
	}
	return &Engine{models: models, processor: proc, metrics: metrics, logger: logger.Named("engine")}, nil
}

// Predict returns one Probabilities per cluster, in input order. Clusters are
// grouped into consecutive mini-batches of batchSize; a non-positive
// batchSize uses DefaultBatchSize.
func (e *Engine) Predict(ctx context.Context, clusters []*sampling.Cluster, batchSize int) ([]Probabilities, error) {
	if len(clusters) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	model, err := e.models.Model()
	if err != nil {
		return nil, err
	}

	batches := make([][]*sampling.Cluster, 0, (len(clusters)+batchSize-1)/batchSize)
	for start := 0; start < len(clusters); start += batchSize {
		end := start + batchSize
		if end > len(clusters) {
			end = len(clusters)
		}
		batches = append(batches, clusters[start:end])
	}

	name := model.Config().Name
	res, err := e.processor.Process(ctx, batches, func(ctx context.Context, batch []*sampling.Cluster) ([]Probabilities, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		probs, err := model.Predict(batch)
		e.metrics.RecordInference(ctx, &common.InferenceMetricParams{
			ModelName:   name,
			BatchSize:   len(batch),
			ClusterSize: batch[0].Size(),
			DurationMs:  float64(time.Since(start).Microseconds()) / 1000.0,
			Success:     err == nil,
		})
		return probs, err
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInferenceFailed, "run forward passes")
	}
	perBatch, err := res.Values()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInferenceFailed, "forward pass failed")
	}

	out := make([]Probabilities, 0, len(clusters))
	for _, p := range perBatch {
		out = append(out, p...)
	}
	e.logger.Debug("inference done",
		logging.Int("clusters", len(clusters)),
		logging.Int("batches", len(batches)),
		logging.Float64("duration_ms", res.TotalDurationMs))
	return out, nil
}

// Close stops accepting work and waits for running batches.
func (e *Engine) Close(ctx context.Context) error {
	return e.processor.Shutdown(ctx)
}

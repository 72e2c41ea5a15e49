package common

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// IntelligenceMetrics records model-side telemetry: forward passes, batch
// runs, circuit-breaker transitions and weight loads.
type IntelligenceMetrics interface {
	RecordInference(ctx context.Context, params *InferenceMetricParams)
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)
	RecordCircuitBreakerStateChange(ctx context.Context, name string, fromState, toState string)
	RecordModelLoad(ctx context.Context, modelName, source string, durationMs float64, success bool)
}

// InferenceMetricParams describes one forward pass over a mini-batch.
type InferenceMetricParams struct {
	ModelName   string  `json:"model_name"`
	BatchSize   int     `json:"batch_size"`
	ClusterSize int     `json:"cluster_size"`
	DurationMs  float64 `json:"duration_ms"`
	Success     bool    `json:"success"`
}

// BatchMetricParams describes one BatchProcessor run.
type BatchMetricParams struct {
	BatchName       string  `json:"batch_name"`
	TotalItems      int     `json:"total_items"`
	SuccessItems    int     `json:"success_items"`
	FailedItems     int     `json:"failed_items"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	MaxConcurrency  int     `json:"max_concurrency"`
}

const metricsSubsystem = "inference"

var latencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type prometheusIntelligenceMetrics struct {
	inferenceLatency *prometheus.HistogramVec
	inferenceTotal   *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	batchItems       *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	modelLoad        *prometheus.HistogramVec
}

// NewPrometheusIntelligenceMetrics registers the inference metrics under
// namespace with reg. A nil reg uses the default registerer.
func NewPrometheusIntelligenceMetrics(reg prometheus.Registerer, namespace string) (IntelligenceMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &prometheusIntelligenceMetrics{
		inferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: metricsSubsystem,
			Name:    "forward_duration_milliseconds",
			Help:    "Forward pass latency per mini-batch.",
			Buckets: latencyBuckets,
		}, []string{"model_name"}),
		inferenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: metricsSubsystem,
			Name: "forward_total",
			Help: "Forward passes by outcome.",
		}, []string{"model_name", "status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: metricsSubsystem,
			Name:    "batch_duration_milliseconds",
			Help:    "Batch processor run duration.",
			Buckets: latencyBuckets,
		}, []string{"batch_name"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: metricsSubsystem,
			Name: "batch_items_total",
			Help: "Batch processor items by outcome.",
		}, []string{"batch_name", "status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: metricsSubsystem,
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open).",
		}, []string{"name"}),
		modelLoad: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: metricsSubsystem,
			Name:    "model_load_duration_milliseconds",
			Help:    "Weight load duration.",
			Buckets: latencyBuckets,
		}, []string{"model_name", "source", "status"}),
	}
	for _, c := range []prometheus.Collector{
		m.inferenceLatency, m.inferenceTotal, m.batchDuration,
		m.batchItems, m.breakerState, m.modelLoad,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *prometheusIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.inferenceLatency.WithLabelValues(p.ModelName).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.ModelName, statusLabel(p.Success)).Inc()
}

func (m *prometheusIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItems.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItems.WithLabelValues(p.BatchName, "failed").Add(float64(p.FailedItems))
}

func (m *prometheusIntelligenceMetrics) RecordCircuitBreakerStateChange(_ context.Context, name string, _, toState string) {
	m.breakerState.WithLabelValues(name).Set(breakerStateValue(toState))
}

func (m *prometheusIntelligenceMetrics) RecordModelLoad(_ context.Context, modelName, source string, durationMs float64, success bool) {
	m.modelLoad.WithLabelValues(modelName, source, statusLabel(success)).Observe(durationMs)
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

type noopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns metrics that discard everything.
func NewNoopIntelligenceMetrics() IntelligenceMetrics { return noopIntelligenceMetrics{} }

func (noopIntelligenceMetrics) RecordInference(context.Context, *InferenceMetricParams)   {}
func (noopIntelligenceMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams) {}
func (noopIntelligenceMetrics) RecordCircuitBreakerStateChange(context.Context, string, string, string) {
}
func (noopIntelligenceMetrics) RecordModelLoad(context.Context, string, string, float64, bool) {}

// ModelLoadRecord is one RecordModelLoad call seen by InMemoryIntelligenceMetrics.
type ModelLoadRecord struct {
	ModelName  string
	Source     string
	DurationMs float64
	Success    bool
}

// InMemoryIntelligenceMetrics keeps every record for inspection in tests.
type InMemoryIntelligenceMetrics struct {
	mu          sync.Mutex
	inferences  []InferenceMetricParams
	batches     []BatchMetricParams
	loads       []ModelLoadRecord
	transitions []string
}

func NewInMemoryIntelligenceMetrics() *InMemoryIntelligenceMetrics {
	return &InMemoryIntelligenceMetrics{}
}

func (m *InMemoryIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.inferences = append(m.inferences, *p)
	m.mu.Unlock()
}

func (m *InMemoryIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.batches = append(m.batches, *p)
	m.mu.Unlock()
}

func (m *InMemoryIntelligenceMetrics) RecordCircuitBreakerStateChange(_ context.Context, _ string, fromState, toState string) {
	m.mu.Lock()
	m.transitions = append(m.transitions, fromState+"->"+toState)
	m.mu.Unlock()
}

func (m *InMemoryIntelligenceMetrics) RecordModelLoad(_ context.Context, modelName, source string, durationMs float64, success bool) {
	m.mu.Lock()
	m.loads = append(m.loads, ModelLoadRecord{ModelName: modelName, Source: source, DurationMs: durationMs, Success: success})
	m.mu.Unlock()
}

func (m *InMemoryIntelligenceMetrics) Inferences() []InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InferenceMetricParams(nil), m.inferences...)
}

func (m *InMemoryIntelligenceMetrics) Batches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchMetricParams(nil), m.batches...)
}

func (m *InMemoryIntelligenceMetrics) ModelLoads() []ModelLoadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelLoadRecord(nil), m.loads...)
}

func (m *InMemoryIntelligenceMetrics) Transitions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.transitions...)
}

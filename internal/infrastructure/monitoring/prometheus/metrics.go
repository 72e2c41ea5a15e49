package prometheus

import (
	"strconv"
	"time"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
)

// Buckets for the builder histograms.
var (
	BuildDurationBuckets   = []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800}
	ClusterCountBuckets    = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}
	RequestDurationBuckets = []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 600}
)

// HeatmapMetrics holds the builder and service metrics. It implements the
// builder's Metrics port.
type HeatmapMetrics struct {
	InstancesBuilt   CounterVec   // dataset, source
	InstanceDuration HistogramVec // dataset, source
	ClustersPerInst  HistogramVec // dataset
	MeanRank         GaugeVec     // dataset
	FalseNegatives   CounterVec   // dataset
	BuildsTotal      CounterVec   // dataset, status
	BuildDuration    HistogramVec // dataset, status
	CacheLookups     CounterVec   // result
	JobsTotal        CounterVec   // outcome
	RequestsTotal    CounterVec   // transport, method, code
	RequestDuration  HistogramVec // transport, method
	ComponentUp      GaugeVec     // component
}

// NewHeatmapMetrics registers every metric on c.
func NewHeatmapMetrics(c MetricsCollector) *HeatmapMetrics {
	return &HeatmapMetrics{
		InstancesBuilt:   c.RegisterCounter("instances_built_total", "Heatmaps written, by dataset and whether they came from the cache.", "dataset", "source"),
		InstanceDuration: c.RegisterHistogram("instance_duration_seconds", "Time to build one heatmap.", BuildDurationBuckets, "dataset", "source"),
		ClustersPerInst:  c.RegisterHistogram("clusters_per_instance", "Clusters sampled per instance.", ClusterCountBuckets, "dataset"),
		MeanRank:         c.RegisterGauge("mean_rank", "Mean rank of the reference tour edges in the last heatmap.", "dataset"),
		FalseNegatives:   c.RegisterCounter("false_negative_edges_total", "Reference tour edges weighted below the false negative threshold.", "dataset"),
		BuildsTotal:      c.RegisterCounter("builds_total", "Finished builds by status.", "dataset", "status"),
		BuildDuration:    c.RegisterHistogram("build_duration_seconds", "Wall time of a whole build.", BuildDurationBuckets, "dataset", "status"),
		CacheLookups:     c.RegisterCounter("cache_lookups_total", "Heatmap cache lookups by result.", "result"),
		JobsTotal:        c.RegisterCounter("jobs_total", "Build jobs consumed by the worker, by outcome.", "outcome"),
		RequestsTotal:    c.RegisterCounter("requests_total", "API requests by transport, method and result code.", "transport", "method", "code"),
		RequestDuration:  c.RegisterHistogram("request_duration_seconds", "API request latency.", RequestDurationBuckets, "transport", "method"),
		ComponentUp:      c.RegisterGauge("component_up", "Dependency health (1 up, 0 down).", "component"),
	}
}

func source(cached bool) string {
	if cached {
		return "cache"
	}
	return "computed"
}

// ObserveInstance records one built heatmap.
func (m *HeatmapMetrics) ObserveInstance(dataset string, r *appHeatmap.InstanceResult) {
	src := source(r.Cached)
	m.InstancesBuilt.WithLabelValues(dataset, src).Inc()
	m.InstanceDuration.WithLabelValues(dataset, src).Observe(r.Duration.Seconds())
	m.ClustersPerInst.WithLabelValues(dataset).Observe(float64(r.Clusters))
	if r.Stats != nil {
		m.MeanRank.WithLabelValues(dataset).Set(r.Stats.MeanRank)
		m.FalseNegatives.WithLabelValues(dataset).Add(float64(r.Stats.FalseNegativeEdges))
	}
}

// ObserveBuild records a finished build.
func (m *HeatmapMetrics) ObserveBuild(dataset, status string, elapsed time.Duration) {
	m.BuildsTotal.WithLabelValues(dataset, status).Inc()
	m.BuildDuration.WithLabelValues(dataset, status).Observe(elapsed.Seconds())
}

// CacheResult counts a cache hit or miss.
func (m *HeatmapMetrics) CacheResult(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// RecordJob counts a worker job outcome ("succeeded", "failed", "dead_lettered", "invalid").
func (m *HeatmapMetrics) RecordJob(outcome string) {
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

// RecordRequest counts an API call. code is the transport status code.
func (m *HeatmapMetrics) RecordRequest(transport, method string, code int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(transport, method, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(transport, method).Observe(elapsed.Seconds())
}

// SetComponentUp reports a dependency health check.
func (m *HeatmapMetrics) SetComponentUp(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.ComponentUp.WithLabelValues(component).Set(v)
}

var _ appHeatmap.Metrics = (*HeatmapMetrics)(nil)

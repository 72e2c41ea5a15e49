package prometheus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
)

func TestHeatmapMetrics_ObserveInstance(t *testing.T) {
	c := newTestCollector(t)
	m := NewHeatmapMetrics(c)

	m.ObserveInstance("tsp500", &appHeatmap.InstanceResult{
		Clusters: 50,
		Duration: 1500 * time.Millisecond,
		Stats:    &domainHeatmap.Statistics{MeanRank: 3.25, FalseNegativeEdges: 2},
	})
	m.ObserveInstance("tsp500", &appHeatmap.InstanceResult{Clusters: 50, Cached: true})

	out := scrape(t, c)
	assert.Contains(t, out, `test_unit_instances_built_total{dataset="tsp500",source="computed"} 1`)
	assert.Contains(t, out, `test_unit_instances_built_total{dataset="tsp500",source="cache"} 1`)
	assert.Contains(t, out, `test_unit_mean_rank{dataset="tsp500"} 3.25`)
	assert.Contains(t, out, `test_unit_false_negative_edges_total{dataset="tsp500"} 2`)
	assert.Contains(t, out, `test_unit_clusters_per_instance_count{dataset="tsp500"} 2`)
	assert.Contains(t, out, `test_unit_instance_duration_seconds_sum{dataset="tsp500",source="computed"} 1.5`)
}

func TestHeatmapMetrics_BuildCacheJobsRequests(t *testing.T) {
	c := newTestCollector(t)
	m := NewHeatmapMetrics(c)

	m.ObserveBuild("rei", appHeatmap.StatusSucceeded, 2*time.Second)
	m.CacheResult(true)
	m.CacheResult(false)
	m.CacheResult(false)
	m.RecordJob("dead_lettered")
	m.RecordRequest("grpc", "Build", 0, 10*time.Millisecond)
	m.SetComponentUp("redis", true)
	m.SetComponentUp("postgres", false)

	out := scrape(t, c)
	assert.Contains(t, out, `test_unit_builds_total{dataset="rei",status="succeeded"} 1`)
	assert.Contains(t, out, `test_unit_build_duration_seconds_sum{dataset="rei",status="succeeded"} 2`)
	assert.Contains(t, out, `test_unit_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, out, `test_unit_cache_lookups_total{result="miss"} 2`)
	assert.Contains(t, out, `test_unit_jobs_total{outcome="dead_lettered"} 1`)
	assert.Contains(t, out, `test_unit_requests_total{code="0",method="Build",transport="grpc"} 1`)
	assert.Contains(t, out, `test_unit_component_up{component="redis"} 1`)
	assert.Contains(t, out, `test_unit_component_up{component="postgres"} 0`)
}

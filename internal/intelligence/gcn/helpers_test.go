package gcn

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/sampling"
)

func tinyConfig() ModelConfig {
	return ModelConfig{
		Name:        "tiny",
		NumNodes:    4,
		NodeDim:     2,
		VocEdgesIn:  3,
		VocEdgesOut: 2,
		HiddenDim:   6,
		NumLayers:   2,
		MLPLayers:   2,
		Aggregation: AggregationMean,
	}
}

func tinyModel(t *testing.T, seed int64) (*Model, *Weights) {
	t.Helper()
	w, err := RandomWeights(tinyConfig(), rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	m, err := NewModel(tinyConfig(), w)
	require.NoError(t, err)
	return m, w
}

func testClusters(t *testing.T, n, k int, seed int64) []*sampling.Cluster {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	coords := make([]instance.Point, n)
	for i := range coords {
		coords[i] = instance.Point{X: rng.Float64(), Y: rng.Float64()}
	}
	s := sampling.NewSampler(sampling.ConfigFromK(k, k+1), rand.New(rand.NewSource(seed)))
	plan, err := s.Sample(context.Background(), &instance.Instance{Coords: coords})
	require.NoError(t, err)
	return plan.Clusters
}

package sampling

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

func randomInstance(n int, seed int64) *instance.Instance {
	rng := rand.New(rand.NewSource(seed))
	coords := make([]instance.Point, n)
	for i := range coords {
		coords[i] = instance.Point{X: rng.Float64(), Y: rng.Float64()}
	}
	return &instance.Instance{Coords: coords}
}

func TestClusterThreshold(t *testing.T) {
	tests := []struct {
		n, topK, want int
	}{
		{20, 19, 1},
		{20, 5, 1},
		{50, 49, 5},
		{100, 19, 25},
		{500, 49, 50},
		{1000, 49, 100},
		{101, 49, 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClusterThreshold(tt.n, tt.topK), "n=%d topK=%d", tt.n, tt.topK)
	}
}

func TestNearestNeighbours_LineOrdering(t *testing.T) {
	coords := []instance.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 3, Y: 0}, {X: 6, Y: 0}, {X: 10, Y: 0}}
	nb, err := NearestNeighbours(context.Background(), coords, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, nb[0])
	assert.Equal(t, []int{0, 2}, nb[1])
	assert.Equal(t, []int{1, 0}, nb[2])
	assert.Equal(t, []int{2, 4}, nb[3])
	assert.Equal(t, []int{3, 2}, nb[4])
}

func TestNearestNeighbours_TiesByIndexAndClamp(t *testing.T) {
	coords := []instance.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: -1, Y: 0}}
	nb, err := NearestNeighbours(context.Background(), coords, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, nb[0])
	for i, row := range nb {
		assert.NotContains(t, row, i)
	}
}

// bruteNeighbours ranks every other node by (distance, index).
func bruteNeighbours(coords []instance.Point, i, k int) []int {
	idx := make([]int, 0, len(coords)-1)
	for j := range coords {
		if j != i {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return instance.Dist(coords[i], coords[idx[a]]) < instance.Dist(coords[i], coords[idx[b]])
	})
	return idx[:k]
}

func TestNearestNeighbours_MatchesBruteForceOnLattice(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	coords := make([]instance.Point, 400)
	for i := range coords {
		// Integer lattice points give many equal distances and some duplicates.
		coords[i] = instance.Point{X: float64(rng.Intn(12)), Y: float64(rng.Intn(12))}
	}
	for _, k := range []int{1, 7, 20} {
		nb, err := NearestNeighbours(context.Background(), coords, k)
		require.NoError(t, err)
		for i := range coords {
			require.Equal(t, bruteNeighbours(coords, i, k), nb[i], "k=%d node=%d", k, i)
		}
	}
}

func TestNearestNeighbours_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NearestNeighbours(ctx, randomInstance(300, 1).Coords, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, ConfigFromK(50, 99).Validate(100))
	assert.Equal(t, 50, ConfigFromK(50, 99).ClusterSize())

	for _, cfg := range []Config{{TopK: 0, TopKExpand: 5}, {TopK: 20, TopKExpand: 30}, {TopK: 5, TopKExpand: 4}} {
		err := cfg.Validate(20)
		assert.True(t, errors.IsCode(err, errors.CodeSamplingParams), "%+v", cfg)
	}
}

func TestSample_TwentyNodesSingleCluster(t *testing.T) {
	inst := randomInstance(20, 7)
	plan, err := NewSampler(ConfigFromK(20, 19), rand.New(rand.NewSource(1))).Sample(context.Background(), inst)
	require.NoError(t, err)

	require.Len(t, plan.Clusters, 1)
	assert.Equal(t, 0, plan.Clusters[0].Nodes[0])
	for i := 0; i < 20; i++ {
		assert.Equal(t, int32(1), plan.Visits[i])
		for j := 0; j < 20; j++ {
			assert.Equal(t, int32(1), plan.Omega[i*plan.N+j])
		}
	}
}

func TestSample_CoverageInvariants(t *testing.T) {
	inst := randomInstance(200, 3)
	cfg := Config{TopK: 19, TopKExpand: 39}
	plan, err := NewSampler(cfg, rand.New(rand.NewSource(5))).Sample(context.Background(), inst)
	require.NoError(t, err)

	assert.Equal(t, 200, plan.N)
	assert.Equal(t, 20, plan.K)
	assert.GreaterOrEqual(t, len(plan.Clusters), ClusterThreshold(200, 19))

	visits := make([]int32, plan.N)
	for _, c := range plan.Clusters {
		require.Equal(t, 20, c.Size())
		seen := map[int]bool{}
		for _, v := range c.Nodes {
			assert.False(t, seen[v], "duplicate node %d in cluster", v)
			seen[v] = true
			visits[v]++
		}
	}
	assert.Equal(t, visits, plan.Visits)

	for i := 0; i < plan.N; i++ {
		assert.Positive(t, plan.Visits[i], "node %d never covered", i)
		assert.Equal(t, plan.Visits[i], plan.Omega[i*plan.N+i])
		for j := 0; j < plan.N; j++ {
			assert.Equal(t, plan.Omega[i*plan.N+j], plan.Omega[j*plan.N+i])
		}
	}
}

func TestSample_FirstClusterIsNearestNeighbourhoodOfNodeZero(t *testing.T) {
	inst := randomInstance(120, 11)
	cfg := Config{TopK: 9, TopKExpand: 19}
	plan, err := NewSampler(cfg, rand.New(rand.NewSource(2))).Sample(context.Background(), inst)
	require.NoError(t, err)

	nb, err := NearestNeighbours(context.Background(), inst.Coords, 9)
	require.NoError(t, err)
	assert.Equal(t, append([]int{0}, nb[0]...), plan.Clusters[0].Nodes)
}

func TestSample_ExpandedClustersStayInPool(t *testing.T) {
	inst := randomInstance(60, 21)
	cfg := Config{TopK: 9, TopKExpand: 14}
	plan, err := NewSampler(cfg, rand.New(rand.NewSource(4))).Sample(context.Background(), inst)
	require.NoError(t, err)

	pools, err := NearestNeighbours(context.Background(), inst.Coords, 14)
	require.NoError(t, err)
	for _, c := range plan.Clusters {
		centre := c.Nodes[0]
		for _, v := range c.Nodes[1:] {
			assert.Contains(t, pools[centre], v)
		}
	}
}

func TestSample_Deterministic(t *testing.T) {
	inst := randomInstance(150, 9)
	cfg := Config{TopK: 14, TopKExpand: 29}
	a, err := NewSampler(cfg, rand.New(rand.NewSource(8))).Sample(context.Background(), inst)
	require.NoError(t, err)
	b, err := NewSampler(cfg, rand.New(rand.NewSource(8))).Sample(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, len(a.Clusters), len(b.Clusters))
	for i := range a.Clusters {
		assert.Equal(t, a.Clusters[i].Nodes, b.Clusters[i].Nodes)
	}
}

func TestSample_ExpandClampedToInstanceSize(t *testing.T) {
	inst := randomInstance(30, 13)
	plan, err := NewSampler(Config{TopK: 9, TopKExpand: 99}, nil).Sample(context.Background(), inst)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Clusters)
}

func TestSample_InvalidConfig(t *testing.T) {
	_, err := NewSampler(Config{TopK: 49, TopKExpand: 99}, nil).Sample(context.Background(), randomInstance(30, 1))
	assert.True(t, errors.IsCode(err, errors.CodeSamplingParams))
}

func TestSample_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSampler(Config{TopK: 9, TopKExpand: 19}, nil).Sample(ctx, randomInstance(100, 1))
	assert.True(t, errors.IsCode(err, errors.CodeSamplingFailed))
}

func TestBuildCluster_Normalisation(t *testing.T) {
	coords := []instance.Point{{X: 2, Y: 3}, {X: 4, Y: 3}, {X: 2, Y: 4}, {X: 10, Y: 10}}
	c := buildCluster(coords, []int{0, 1, 2})

	assert.Equal(t, 0.5, c.Scale)
	assert.Equal(t, []float64{0, 0, 1, 0, 0, 0.5}, c.Coords)
	assert.Equal(t, 0.0, c.EdgeValues[0])
	assert.Equal(t, 1.0, c.EdgeValues[0*3+1])
	assert.Equal(t, 0.5, c.EdgeValues[0*3+2])
	assert.InDelta(t, math.Sqrt(5)/2, c.EdgeValues[1*3+2], 1e-12)
	assert.Equal(t, c.EdgeValues[1*3+2], c.EdgeValues[2*3+1])
}

func TestBuildCluster_CoincidentPoints(t *testing.T) {
	coords := []instance.Point{{X: 1, Y: 1}, {X: 1, Y: 1}}
	c := buildCluster(coords, []int{0, 1})
	assert.Equal(t, 1.0, c.Scale)
	assert.Equal(t, []float64{0, 0, 0, 0}, c.Coords)
}

func TestTags(t *testing.T) {
	assert.Equal(t, []int{2, 1, 1, 1, 2, 1, 1, 1, 2}, EdgeTags(3))
}

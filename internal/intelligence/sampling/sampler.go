package sampling

import (
	"context"
	"math/rand"

	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// Config sizes the clusters. TopK neighbours plus the centre make a cluster of
// TopK+1 nodes; TopKExpand is the neighbour pool that centres draw from once
// every node has been covered.
type Config struct {
	TopK       int
	TopKExpand int
}

// ConfigFromK converts the cluster size K used on the command line into a
// Config (TopK = K-1).
func ConfigFromK(k, kExpand int) Config {
	return Config{TopK: k - 1, TopKExpand: kExpand}
}

// ClusterSize is TopK+1.
func (c Config) ClusterSize() int { return c.TopK + 1 }

// Validate checks the sizes against an instance of n nodes.
func (c Config) Validate(n int) error {
	if c.TopK < 1 {
		return errors.Newf(errors.CodeSamplingParams, "top_k must be ≥ 1, got %d", c.TopK)
	}
	if c.TopK > n-1 {
		return errors.Newf(errors.CodeSamplingParams, "top_k %d needs at least %d nodes, instance has %d", c.TopK, c.TopK+1, n)
	}
	if c.TopKExpand < c.TopK {
		return errors.Newf(errors.CodeSamplingParams, "top_k_expand %d must be ≥ top_k %d", c.TopKExpand, c.TopK)
	}
	return nil
}

// Cluster is one local subgraph: a centre and its TopK neighbours.
type Cluster struct {
	// Nodes holds instance node indices, centre first.
	Nodes []int

	// Coords holds the K normalised coordinates as x0,y0,x1,y1,...
	Coords []float64

	// EdgeValues holds the K×K scaled distances in row-major order.
	EdgeValues []float64

	// Scale is the factor applied to coordinates and distances.
	Scale float64
}

// Size returns the number of nodes in the cluster.
func (c *Cluster) Size() int { return len(c.Nodes) }

// Plan is the full sampling result for one instance.
type Plan struct {
	N        int
	K        int
	Clusters []*Cluster

	// Omega counts, for every node pair, the clusters containing both nodes.
	// Row-major n×n; the diagonal counts clusters containing the node.
	Omega []int32

	// Visits counts the clusters each node belongs to.
	Visits []int32
}

// Sampler builds cluster plans. It is not safe for concurrent use because it
// owns its random source; create one per goroutine.
type Sampler struct {
	cfg Config
	rng *rand.Rand
}

// NewSampler returns a Sampler drawing centres and shuffles from rng.
func NewSampler(cfg Config, rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Sampler{cfg: cfg, rng: rng}
}

// Sample covers inst with clusters. The first centre is node 0; each next
// centre is drawn uniformly among the least-visited nodes. While some node is
// still unvisited a cluster is the centre plus its TopK nearest neighbours;
// afterwards the centre's TopKExpand pool is shuffled in place and its first
// TopK entries are used. Sampling stops once every node has been visited and
// at least ClusterThreshold clusters exist.
func (s *Sampler) Sample(ctx context.Context, inst *instance.Instance) (*Plan, error) {
	n := inst.N()
	if err := s.cfg.Validate(n); err != nil {
		return nil, err
	}
	topK := s.cfg.TopK
	topKExpand := s.cfg.TopKExpand
	if topKExpand > n-1 {
		topKExpand = n - 1
	}

	expand, err := NearestNeighbours(ctx, inst.Coords, topKExpand)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSamplingFailed, "select neighbours")
	}

	k := topK + 1
	plan := &Plan{
		N:      n,
		K:      k,
		Omega:  make([]int32, n*n),
		Visits: make([]int32, n),
	}
	threshold := ClusterThreshold(n, topK)
	unvisited := n
	centre := 0

	for len(plan.Clusters) < threshold || unvisited > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeSamplingFailed, "sampling interrupted")
		}

		nodes := make([]int, 0, k)
		nodes = append(nodes, centre)
		if unvisited > 0 {
			// expand rows are sorted ascending, so their prefix is the TopK set.
			nodes = append(nodes, expand[centre][:topK]...)
		} else {
			pool := expand[centre][:topKExpand]
			s.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
			nodes = append(nodes, pool[:topK]...)
		}

		for _, v := range nodes {
			if plan.Visits[v] == 0 {
				unvisited--
			}
			plan.Visits[v]++
		}
		for _, a := range nodes {
			row := plan.Omega[a*n:]
			for _, b := range nodes {
				row[b]++
			}
		}
		plan.Clusters = append(plan.Clusters, buildCluster(inst.Coords, nodes))

		centre = s.leastVisited(plan.Visits)
	}
	return plan, nil
}

// leastVisited picks uniformly among the nodes with the minimum visit count.
func (s *Sampler) leastVisited(visits []int32) int {
	min := visits[0]
	count := 0
	for _, v := range visits {
		switch {
		case v < min:
			min, count = v, 1
		case v == min:
			count++
		}
	}
	pick := s.rng.Intn(count)
	for i, v := range visits {
		if v == min {
			if pick == 0 {
				return i
			}
			pick--
		}
	}
	return 0
}

// buildCluster normalises the member coordinates into the unit box anchored
// at their per-axis minimum and scales the pairwise distances by the same
// factor.
func buildCluster(coords []instance.Point, nodes []int) *Cluster {
	k := len(nodes)
	pts := make([]instance.Point, k)
	for i, v := range nodes {
		pts[i] = coords[v]
	}
	min, span := instance.BoundingBox(pts)
	scale := 1.0
	if span > 0 {
		scale = 1.0 / span
	}

	c := &Cluster{
		Nodes:      nodes,
		Coords:     make([]float64, 2*k),
		EdgeValues: make([]float64, k*k),
		Scale:      scale,
	}
	for i, p := range pts {
		c.Coords[2*i] = (p.X - min.X) * scale
		c.Coords[2*i+1] = (p.Y - min.Y) * scale
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			d := instance.Dist(pts[i], pts[j]) * scale
			c.EdgeValues[i*k+j] = d
			c.EdgeValues[j*k+i] = d
		}
	}
	return c
}

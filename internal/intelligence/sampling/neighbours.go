// Package sampling builds the fixed-size local subgraphs ("clusters") that are
// fed to the edge-scoring network, and the coverage counters used to
// normalise the aggregated probabilities.
package sampling

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
)

// site is a node position stored in the k-d tree.
type site struct {
	x, y float64
	node int
}

func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	o := c.(site)
	if d == 0 {
		return s.x - o.x
	}
	return s.y - o.y
}

func (s site) Dims() int { return 2 }

// Distance is the squared Euclidean distance, as kdtree expects.
func (s site) Distance(c kdtree.Comparable) float64 {
	o := c.(site)
	dx, dy := s.x-o.x, s.y-o.y
	return dx*dx + dy*dy
}

type sites []site

func (s sites) Index(i int) kdtree.Comparable         { return s[i] }
func (s sites) Len() int                              { return len(s) }
func (s sites) Pivot(d kdtree.Dim) int                { return sitePlane{sites: s, Dim: d}.Pivot() }
func (s sites) Slice(start, end int) kdtree.Interface { return s[start:end] }

type sitePlane struct {
	kdtree.Dim
	sites
}

func (p sitePlane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.sites[i].x < p.sites[j].x
	}
	return p.sites[i].y < p.sites[j].y
}
func (p sitePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p sitePlane) Slice(start, end int) kdtree.SortSlicer {
	p.sites = p.sites[start:end]
	return p
}
func (p sitePlane) Swap(i, j int) { p.sites[i], p.sites[j] = p.sites[j], p.sites[i] }

// candidate is a neighbour with its distance.
type candidate struct {
	node int
	dist float64
}

// NearestNeighbours returns, for every node, the k nearest other nodes in
// ascending distance order (ties broken by index). The node itself is never
// its own neighbour. Rows are queried in parallel against one k-d tree.
func NearestNeighbours(ctx context.Context, coords []instance.Point, k int) ([][]int, error) {
	n := len(coords)
	if k > n-1 {
		k = n - 1
	}
	out := make([][]int, n)
	if k <= 0 {
		for i := range out {
			out[i] = []int{}
		}
		return out, nil
	}

	pts := make(sites, n)
	for i, p := range coords {
		pts[i] = site{x: p.X, y: p.Y, node: i}
	}
	tree := kdtree.New(pts, false)

	const chunk = 128
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				out[i] = kNearest(tree, coords, i, k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// kNearest finds the radius holding the k+1 closest sites (the query node
// included), collects every site within it so boundary ties are complete,
// then orders by distance and index.
func kNearest(tree *kdtree.Tree, coords []instance.Point, i, k int) []int {
	q := site{x: coords[i].X, y: coords[i].Y, node: i}
	nk := kdtree.NewNKeeper(k + 1)
	tree.NearestSet(nk, q)
	var radius float64
	for _, c := range nk.Heap {
		if c.Comparable != nil && c.Dist > radius {
			radius = c.Dist
		}
	}

	dk := kdtree.NewDistKeeper(radius)
	tree.NearestSet(dk, q)
	found := make([]candidate, 0, len(dk.Heap))
	for _, c := range dk.Heap {
		if c.Comparable == nil {
			continue
		}
		j := c.Comparable.(site).node
		if j == i {
			continue
		}
		found = append(found, candidate{node: j, dist: instance.Dist(coords[i], coords[j])})
	}
	sort.Slice(found, func(a, b int) bool {
		if found[a].dist != found[b].dist {
			return found[a].dist < found[b].dist
		}
		return found[a].node < found[b].node
	})
	if len(found) > k {
		found = found[:k]
	}
	row := make([]int, len(found))
	for idx, c := range found {
		row[idx] = c.node
	}
	return row
}

// ClusterThreshold is the minimum number of clusters sampled for an instance
// of n nodes with clusters of topK+1 nodes: one for 20-node instances,
// otherwise ceil(n/(topK+1)·5).
func ClusterThreshold(n, topK int) int {
	if n == 20 {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(topK+1) * 5))
}

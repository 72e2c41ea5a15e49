package heatmap

import (
	"sort"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// omegaEps keeps the division by the coverage count finite for pairs no
// cluster covered.
const omegaEps = 1e-8

// EdgeProbabilities exposes the tour-edge probability of one cluster,
// indexed by cluster-local node positions.
type EdgeProbabilities interface {
	Edge(i, j int) float32
}

// Heatmap is an N×N row-major matrix of edge weights. After Aggregate every
// non-empty row sums to 1.
type Heatmap struct {
	N int
	P []float64
}

// New returns an all-zero heatmap.
func New(n int) *Heatmap {
	return &Heatmap{N: n, P: make([]float64, n*n)}
}

// At returns P[i][j].
func (h *Heatmap) At(i, j int) float64 { return h.P[i*h.N+j] }

// Set assigns P[i][j].
func (h *Heatmap) Set(i, j int, v float64) { h.P[i*h.N+j] = v }

// Row returns row i, sharing storage with h.
func (h *Heatmap) Row(i int) []float64 { return h.P[i*h.N : (i+1)*h.N] }

// Aggregate merges the per-cluster edge probabilities into one heatmap:
// scores are summed at the instance positions of each cluster, divided by
// the coverage count omega, symmetrised and row-normalised. A row whose sum
// is zero stays zero.
func Aggregate(n int, omega []int32, nodes [][]int, probs []EdgeProbabilities) (*Heatmap, error) {
	if n <= 0 {
		return nil, errors.Newf(errors.CodeHeatmapShape, "node count must be positive, got %d", n)
	}
	if len(omega) != n*n {
		return nil, errors.Newf(errors.CodeHeatmapShape, "omega has %d entries, want %d", len(omega), n*n)
	}
	if len(nodes) != len(probs) {
		return nil, errors.Newf(errors.CodeHeatmapShape, "%d clusters but %d probability sets", len(nodes), len(probs))
	}

	acc := make([]float32, n*n)
	for c, members := range nodes {
		p := probs[c]
		for i, a := range members {
			if a < 0 || a >= n {
				return nil, errors.Newf(errors.CodeHeatmapShape, "cluster %d references node %d outside [0,%d)", c, a, n)
			}
			row := acc[a*n:]
			for j, b := range members {
				row[b] += p.Edge(i, j)
			}
		}
	}

	h := New(n)
	for i, v := range acc {
		h.P[i] = float64(v) / (float64(omega[i]) + omegaEps)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := h.P[i*n+j] + h.P[j*n+i]
			h.P[i*n+j] = s
			h.P[j*n+i] = s
		}
	}
	h.normalizeRows()
	return h, nil
}

func (h *Heatmap) normalizeRows() {
	for i := 0; i < h.N; i++ {
		row := h.Row(i)
		var sum float64
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

// Symmetrized returns a copy with P[i][j] = P[j][i] = (P[i][j]+P[j][i])/2,
// the form the search consumer works on.
func (h *Heatmap) Symmetrized() *Heatmap {
	out := &Heatmap{N: h.N, P: make([]float64, len(h.P))}
	copy(out.P, h.P)
	n := h.N
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			avg := (out.P[i*n+j] + out.P[j*n+i]) / 2
			out.P[i*n+j] = avg
			out.P[j*n+i] = avg
		}
	}
	return out
}

// Edge is a weighted candidate edge.
type Edge struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Weight float64 `json:"weight"`
}

// TopEdges returns, for each node, its k heaviest outgoing edges ordered by
// weight descending then target index. Self loops and zero weights are
// skipped.
func TopEdges(h *Heatmap, k int) [][]Edge {
	out := make([][]Edge, h.N)
	if k <= 0 {
		return out
	}
	for i := 0; i < h.N; i++ {
		row := h.Row(i)
		cands := make([]Edge, 0, h.N)
		for j, w := range row {
			if j != i && w > 0 {
				cands = append(cands, Edge{From: i, To: j, Weight: w})
			}
		}
		sort.Slice(cands, func(a, b int) bool {
			if cands[a].Weight != cands[b].Weight {
				return cands[a].Weight > cands[b].Weight
			}
			return cands[a].To < cands[b].To
		})
		if len(cands) > k {
			cands = cands[:k]
		}
		out[i] = cands
	}
	return out
}

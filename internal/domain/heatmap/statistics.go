package heatmap

import (
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

const (
	// FalseNegativeThreshold is the weight below which a tour edge counts as
	// missed by the heatmap.
	FalseNegativeThreshold = 1e-5

	// DensityThreshold is the weight above which an entry counts as a
	// candidate edge.
	DensityThreshold = 1e-6
)

// Statistics measure how well a heatmap covers a reference tour.
type Statistics struct {
	// MeanRank is the average, over tour steps, of how many entries in the
	// current node's row weigh at least as much as the tour edge taken.
	MeanRank float64 `json:"mean_rank"`

	// FalseNegativeEdges counts tour edges weighted below
	// FalseNegativeThreshold.
	FalseNegativeEdges int `json:"false_negative_edges"`

	// Density is the number of entries above DensityThreshold per node.
	Density float64 `json:"density"`
}

// ComputeStatistics scores h against a closed zero-based tour. The mean rank
// covers the first N-1 steps; false negatives cover every step including the
// closing one.
func ComputeStatistics(h *Heatmap, tour []int) (Statistics, error) {
	n := h.N
	if n < 2 {
		return Statistics{}, errors.Newf(errors.CodeHeatmapShape, "need at least 2 nodes, got %d", n)
	}
	if len(tour) < n {
		return Statistics{}, errors.Newf(errors.CodeTourInvalid, "tour has %d entries for %d nodes", len(tour), n)
	}
	for _, v := range tour {
		if v < 0 || v >= n {
			return Statistics{}, errors.Newf(errors.CodeTourInvalid, "tour node %d outside [0,%d)", v, n)
		}
	}

	var st Statistics
	var rankSum int
	for i := 0; i < n-1; i++ {
		row := h.Row(tour[i])
		ref := row[tour[i+1]]
		for _, v := range row {
			if v >= ref {
				rankSum++
			}
		}
	}
	st.MeanRank = float64(rankSum) / float64(n-1)

	for i := 0; i < len(tour)-1; i++ {
		if h.At(tour[i], tour[i+1]) < FalseNegativeThreshold {
			st.FalseNegativeEdges++
		}
	}

	var dense int
	for _, v := range h.P {
		if v > DensityThreshold {
			dense++
		}
	}
	st.Density = float64(dense) / float64(n)
	return st, nil
}

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
)

func newInspectCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the size and statistics of a heatmap file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := domainHeatmap.ReadFile(args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, newInspectView(args[0], h, st, top))
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "also list the k heaviest edges of every node")
	return cmd
}

type inspectView struct {
	File      string                    `json:"file"`
	N         int                       `json:"n"`
	Stats     *domainHeatmap.Statistics `json:"stats,omitempty"`
	EmptyRows int                       `json:"empty_rows"`
	RowSumMin float64                   `json:"row_sum_min"`
	RowSumMax float64                   `json:"row_sum_max"`
	// Row sums of the symmetrised matrix the tour search consumes.
	SymRowSumMin float64                `json:"sym_row_sum_min"`
	SymRowSumMax float64                `json:"sym_row_sum_max"`
	TopEdges     [][]domainHeatmap.Edge `json:"top_edges,omitempty"`
}

func newInspectView(file string, h *domainHeatmap.Heatmap, st *domainHeatmap.Statistics, top int) inspectView {
	v := inspectView{File: file, N: h.N, Stats: st}
	first := true
	for i := 0; i < h.N; i++ {
		var sum float64
		for _, w := range h.Row(i) {
			sum += w
		}
		if sum == 0 {
			v.EmptyRows++
			continue
		}
		if first || sum < v.RowSumMin {
			v.RowSumMin = sum
		}
		if first || sum > v.RowSumMax {
			v.RowSumMax = sum
		}
		first = false
	}
	sym := h.Symmetrized()
	for i := 0; i < sym.N; i++ {
		var sum float64
		for _, w := range sym.Row(i) {
			sum += w
		}
		if i == 0 || sum < v.SymRowSumMin {
			v.SymRowSumMin = sum
		}
		if i == 0 || sum > v.SymRowSumMax {
			v.SymRowSumMax = sum
		}
	}
	if top > 0 {
		v.TopEdges = domainHeatmap.TopEdges(h, top)
	}
	return v
}

func (v inspectView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: N=%d empty_rows=%d", v.File, v.N, v.EmptyRows)
	if v.Stats != nil {
		fmt.Fprintf(&sb, " mean_rank=%.6f false_negative_edges=%d density=%.6f",
			v.Stats.MeanRank, v.Stats.FalseNegativeEdges, v.Stats.Density)
	}
	return sb.String()
}

func (v inspectView) TableHeaders() []string {
	if len(v.TopEdges) > 0 {
		return []string{"Node", "Top edges"}
	}
	return []string{"Field", "Value"}
}

func (v inspectView) TableRows() [][]string {
	if len(v.TopEdges) > 0 {
		rows := make([][]string, 0, len(v.TopEdges))
		for i, edges := range v.TopEdges {
			parts := make([]string, len(edges))
			for k, e := range edges {
				parts[k] = fmt.Sprintf("%d:%.4f", e.To, e.Weight)
			}
			rows = append(rows, []string{strconv.Itoa(i), strings.Join(parts, " ")})
		}
		return rows
	}
	rows := [][]string{
		{"file", v.File},
		{"n", strconv.Itoa(v.N)},
		{"empty_rows", strconv.Itoa(v.EmptyRows)},
		{"row_sum", fmt.Sprintf("%.6f..%.6f", v.RowSumMin, v.RowSumMax)},
		{"sym_row_sum", fmt.Sprintf("%.6f..%.6f", v.SymRowSumMin, v.SymRowSumMax)},
	}
	if v.Stats != nil {
		rows = append(rows,
			[]string{"mean_rank", colorizeMeanRank(v.Stats.MeanRank)},
			[]string{"false_negative_edges", strconv.Itoa(v.Stats.FalseNegativeEdges)},
			[]string{"density", fmt.Sprintf("%.6f", v.Stats.Density)},
		)
	}
	return rows
}

package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/bootstrap"
	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
)

type buildOptions struct {
	dataset        string
	instance       string
	scale          int
	batchSize      int
	k              int
	kExpand        int
	dataDir        string
	heatmapDir     string
	concurrency    int
	randomWeights  bool
	skipStatistics bool
}

func newBuildCmd() *cobra.Command {
	o := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build heatmaps for every instance of a dataset file",
		Example: "  heatmap build --dataset tsp500 --instance test --scale 500 --batch-size 16 --k 50 --k-expand 99\n" +
			"  heatmap build --dataset rei --instance rei_100 --scale 100 -o json",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.dataset, "dataset", "", "dataset directory under the data dir")
	f.StringVar(&o.instance, "instance", "", "instance file name without .txt")
	f.IntVar(&o.scale, "scale", 0, "expected node count (0 = take it from the file)")
	f.IntVar(&o.batchSize, "batch-size", 0, "clusters per forward pass (0 = config)")
	f.IntVar(&o.k, "k", 0, "cluster size (0 = config)")
	f.IntVar(&o.kExpand, "k-expand", 0, "neighbour pool once every node is covered (0 = config)")
	f.StringVar(&o.dataDir, "data-dir", "", "override paths.data_dir")
	f.StringVar(&o.heatmapDir, "heatmap-dir", "", "override paths.heatmap_dir")
	f.IntVar(&o.concurrency, "concurrency", 0, "instances built at once (0 = config)")
	f.BoolVar(&o.randomWeights, "random-weights", false, "fall back to random weights when the weight file is missing")
	f.BoolVar(&o.skipStatistics, "skip-statistics", false, "do not score heatmaps against the tour")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func (o *buildOptions) apply(cfg config.Config) *config.Config {
	if o.dataDir != "" {
		cfg.Paths.DataDir = o.dataDir
	}
	if o.heatmapDir != "" {
		cfg.Paths.HeatmapDir = o.heatmapDir
	}
	if o.concurrency > 0 {
		cfg.Builder.Concurrency = o.concurrency
	}
	if o.randomWeights {
		cfg.Model.AllowRandomWeights = true
	}
	if o.skipStatistics {
		cfg.Builder.SkipStatistics = true
	}
	return &cfg
}

func runBuild(cmd *cobra.Command, o *buildOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cliCtx.commandContext(cmd)
	defer cancel()

	cfg := o.apply(*cliCtx.Config)
	app, err := bootstrap.New(ctx, cfg, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	if err := app.InitBuilder(ctx); err != nil {
		return err
	}

	req := appHeatmap.BuildRequest{
		Dataset:   o.dataset,
		Instance:  o.instance,
		Scale:     o.scale,
		BatchSize: o.batchSize,
		K:         o.k,
		KExpand:   o.kExpand,
	}
	report, buildErr := app.Service.BuildDataset(ctx, req)
	if report != nil && len(report.Results) > 0 {
		if err := PrintResult(cmd, buildReportView{report}); err != nil {
			cliCtx.Logger.Warn("print report failed", logging.Err(err))
		}
	}
	return buildErr
}

type buildReportView struct {
	*appHeatmap.BuildReport
}

func (v buildReportView) String() string {
	return fmt.Sprintf("run %s: %d heatmaps, status %s, avg mean rank %.3f, took %s",
		v.RunID, len(v.Results), v.Status, v.AvgMeanRank, v.Duration)
}

func (v buildReportView) TableHeaders() []string {
	return []string{"#", "N", "Clusters", "Mean rank", "False neg", "Density", "Tour", "Tour len", "Cached", "Time", "File"}
}

func (v buildReportView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Results))
	for _, r := range v.Results {
		if r == nil {
			continue
		}
		rank, fn, density, tourLen := "-", "-", "-", "-"
		if r.Stats != nil {
			rank = colorizeMeanRank(r.Stats.MeanRank)
			fn = strconv.Itoa(r.Stats.FalseNegativeEdges)
			density = fmt.Sprintf("%.2f", r.Stats.Density)
			tourLen = fmt.Sprintf("%.4f", r.TourLength)
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			strconv.Itoa(r.N),
			strconv.Itoa(r.Clusters),
			rank,
			fn,
			density,
			r.TourSource,
			tourLen,
			strconv.FormatBool(r.Cached),
			r.Duration.Round(1e6).String(),
			r.File,
		})
	}
	return rows
}

package cli

import (
	"context"

	"github.com/spf13/cobra"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/bootstrap"
	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

func newSubmitCmd() *cobra.Command {
	var req appHeatmap.BuildRequest
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a build job for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, req)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Dataset, "dataset", "", "dataset directory under the data dir")
	f.StringVar(&req.Instance, "instance", "", "instance file name without .txt")
	f.IntVar(&req.Scale, "scale", 0, "expected node count (0 = take it from the file)")
	f.IntVar(&req.BatchSize, "batch-size", 0, "clusters per forward pass (0 = worker config)")
	f.IntVar(&req.K, "k", 0, "cluster size (0 = worker config)")
	f.IntVar(&req.KExpand, "k-expand", 0, "neighbour pool once every node is covered (0 = worker config)")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

type submitResult struct {
	JobID    string `json:"job_id"`
	Topic    string `json:"topic"`
	Dataset  string `json:"dataset"`
	Instance string `json:"instance"`
}

func (r submitResult) TableHeaders() []string { return []string{"Job", "Topic", "Dataset", "Instance"} }
func (r submitResult) TableRows() [][]string {
	return [][]string{{r.JobID, r.Topic, r.Dataset, r.Instance}}
}

func runSubmit(cmd *cobra.Command, req appHeatmap.BuildRequest) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	cfg := cliCtx.Config
	if !cfg.Messaging.Kafka.Enabled {
		return errors.InvalidParam("submit requires messaging.kafka.enabled")
	}
	ctx, cancel := cliCtx.commandContext(cmd)
	defer cancel()

	kafkaOnly := *cfg
	kafkaOnly.Database = config.DatabaseConfig{}
	kafkaOnly.Search = config.SearchConfig{}
	kafkaOnly.Storage = config.StorageConfig{}
	app, err := bootstrap.New(ctx, &kafkaOnly, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	job := appHeatmap.NewBuildJob(req)
	if err := app.Jobs.Submit(ctx, job); err != nil {
		return err
	}
	cliCtx.Logger.Info("build job submitted", logging.String("job_id", job.JobID))
	return PrintResult(cmd, submitResult{
		JobID:    job.JobID,
		Topic:    cfg.Messaging.Kafka.JobTopic,
		Dataset:  job.Dataset,
		Instance: job.Instance,
	})
}

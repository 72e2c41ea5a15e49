package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/GCN-Heatmap/internal/bootstrap"
	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
)

func newServeCmd() *cobra.Command {
	var httpPort, grpcPort int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC build API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, func(cfg *config.Config) {
				if httpPort > 0 {
					cfg.Server.HTTPPort = httpPort
				}
				if grpcPort > 0 {
					cfg.Server.GRPCPort = grpcPort
				}
			}, func(ctx context.Context, app *bootstrap.App) error {
				return bootstrap.RunAPIServer(ctx, app, bootstrap.ServeOptions{Version: Version})
			})
		},
	}
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "override server.http_port")
	cmd.Flags().IntVar(&grpcPort, "grpc-port", 0, "override server.grpc_port")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume build jobs from Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, func(cfg *config.Config) {
				if concurrency > 0 {
					cfg.Worker.Concurrency = concurrency
				}
			}, func(ctx context.Context, app *bootstrap.App) error {
				return bootstrap.RunWorker(ctx, app, bootstrap.WorkerOptions{Version: Version})
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override worker.concurrency")
	return cmd
}

// runDaemon bootstraps the backends and runs fn until SIGINT or SIGTERM.
func runDaemon(cmd *cobra.Command, override func(*config.Config), fn func(context.Context, *bootstrap.App) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg := *cliCtx.Config
	override(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, &cfg, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			cliCtx.Logger.Warn("shutdown incomplete", logging.Err(err))
		}
	}()
	return fn(ctx, app)
}

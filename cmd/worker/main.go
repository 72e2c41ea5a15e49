// Command worker consumes build jobs from Kafka and writes their heatmaps.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/GCN-Heatmap/internal/bootstrap"
	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment and defaults)")
	workers := flag.Int("workers", 0, "number of concurrent consumers (overrides worker.concurrency)")
	healthPort := flag.Int("health-port", 0, "health and metrics port (overrides worker.health_port)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Worker.Concurrency = *workers
	}
	if *healthPort > 0 {
		cfg.Worker.HealthPort = *healthPort
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", logging.Err(err))
		logging.Sync(logger)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting worker",
		logging.String("version", version),
		logging.Int("consumers", cfg.Worker.Concurrency),
		logging.String("topic", cfg.Messaging.Kafka.JobTopic),
	)
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Warn("shutdown incomplete", logging.Err(err))
		}
	}()

	if err := bootstrap.RunWorker(ctx, app, bootstrap.WorkerOptions{Version: version}); err != nil {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

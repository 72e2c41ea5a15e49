// Command apiserver serves the heatmap build API over HTTP and gRPC.
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
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *httpPort > 0 {
		cfg.Server.HTTPPort = *httpPort
	}
	if *grpcPort > 0 {
		cfg.Server.GRPCPort = *grpcPort
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
		logger.Error("apiserver exited", logging.Err(err))
		logging.Sync(logger)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting apiserver",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.HTTPPort),
		logging.Int("grpc_port", cfg.Server.GRPCPort),
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

	if err := bootstrap.RunAPIServer(ctx, app, bootstrap.ServeOptions{Version: version}); err != nil {
		return err
	}
	logger.Info("apiserver stopped")
	return nil
}

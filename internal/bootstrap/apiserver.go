package bootstrap

import (
	"context"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/GCN-Heatmap/internal/interfaces/grpc"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/grpc/services"
	httpserver "github.com/turtacn/GCN-Heatmap/internal/interfaces/http"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/handlers"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/middleware"
)

// ServeOptions overrides the listeners of RunAPIServer. Nil listeners bind
// the configured ports.
type ServeOptions struct {
	Version      string
	HTTPListener net.Listener
	GRPCListener net.Listener
}

// Router builds the HTTP handler tree for a with its builder initialised.
func (a *App) Router(version string) http.Handler {
	deps := handlers.RunHandlerDeps{Service: a.Service, Logger: a.Logger}
	if a.Jobs != nil {
		deps.Submitter = a.Jobs
	}
	if a.RunIndex != nil {
		deps.Searcher = a.RunIndex
	}
	if a.RunQueries != nil {
		deps.Reader = a.RunQueries
	}

	rc := httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(version, a.Ready, a.HealthCheckers()...),
		RunHandler:    handlers.NewRunHandler(deps),
		BuildTimeout:  a.Config.Builder.InstanceTimeout,
		Logger:        a.Logger,
	}
	if a.Metrics != nil {
		rc.Recorder = a.Metrics
	}
	if a.Config.Metrics.Enabled && a.Collector != nil {
		rc.Metrics = a.Collector.Handler()
	}
	if a.Config.Server.RateLimit > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = a.Config.Server.RateLimit
		if a.Config.Server.RateBurst > 0 {
			rl.Burst = a.Config.Server.RateBurst
		}
		rc.RateLimit = &rl
	}
	return httpserver.NewRouter(rc)
}

// RunAPIServer serves HTTP and gRPC until ctx is cancelled, then drains both.
func RunAPIServer(ctx context.Context, a *App, opts ServeOptions) error {
	if err := a.InitBuilder(ctx); err != nil {
		return err
	}
	cfg := a.Config
	log := a.Logger.Named("apiserver")

	grpcOpts := []grpcserver.Option{
		grpcserver.WithLogger(a.Logger),
		grpcserver.WithGracefulTimeout(cfg.Server.ShutdownTimeout),
		grpcserver.WithReflection(cfg.Server.Mode == "debug"),
	}
	if a.Metrics != nil {
		grpcOpts = append(grpcOpts, grpcserver.WithMetrics(a.Metrics))
	}
	if opts.GRPCListener != nil {
		grpcOpts = append(grpcOpts, grpcserver.WithListener(opts.GRPCListener))
	}
	gs, err := grpcserver.NewServer(cfg.Server.GRPCPort, grpcOpts...)
	if err != nil {
		return err
	}
	var submitter services.JobSubmitter
	if a.Jobs != nil {
		submitter = a.Jobs
	}
	gs.RegisterService(&services.HeatmapServiceDesc, services.NewHeatmapService(a.Service, submitter, a.Logger))
	gs.SetServing(a.Ready())

	hs := httpserver.NewServer(cfg.Server, a.Router(opts.Version), a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if opts.HTTPListener != nil {
			return hs.Serve(opts.HTTPListener)
		}
		return hs.Start()
	})
	g.Go(gs.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")
		stopCtx := context.Background()
		gs.SetServing(false)
		if err := hs.Stop(stopCtx); err != nil {
			log.Error("http shutdown failed", logging.Err(err))
		}
		return gs.Stop(stopCtx)
	})

	log.Info("apiserver started",
		logging.Int("http_port", cfg.Server.HTTPPort),
		logging.Int("grpc_port", cfg.Server.GRPCPort),
		logging.String("mode", cfg.Server.Mode),
	)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("apiserver stopped")
	return nil
}

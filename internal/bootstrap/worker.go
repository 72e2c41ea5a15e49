package bootstrap

import (
	"context"
	"net"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/GCN-Heatmap/internal/interfaces/http"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/handlers"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// WorkerOptions overrides the health listener of RunWorker.
type WorkerOptions struct {
	Version        string
	HealthListener net.Listener
}

// JobHandler decodes a build job message and runs it. Errors that
// appHeatmap.IsRetryable rejects go straight to the dead letter topic.
func (a *App) JobHandler() kafka.MessageHandler {
	log := a.Logger.Named("worker")
	return func(ctx context.Context, msg *kafka.Message) error {
		job, err := kafka.DecodeBuildJob(msg)
		if err != nil {
			if a.Metrics != nil {
				a.Metrics.RecordJob(appHeatmap.JobInvalid)
			}
			log.Warn("undecodable build job",
				logging.String("topic", msg.Topic),
				logging.Int64("offset", msg.Offset),
				logging.Err(err))
			return err
		}
		report, err := a.Runner.Run(ctx, job)
		if err != nil {
			return err
		}
		log.Info("build job finished",
			logging.String("job_id", job.JobID),
			logging.String("run_id", report.RunID),
			logging.Int("instances", len(report.Results)))
		return nil
	}
}

// consumerConfig bounds each job by worker.job_timeout. The builder applies
// builder.instance_timeout to every instance of the job on its own.
func (a *App) consumerConfig() kafka.ConsumerConfig {
	kcfg := a.Config.Messaging.Kafka
	return kafka.ConsumerConfig{
		Brokers:        kcfg.Brokers,
		GroupID:        kcfg.GroupID,
		Topics:         []string{kcfg.JobTopic},
		HandlerTimeout: a.Config.Worker.JobTimeout,
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      kcfg.MaxRetries,
			RetryBackoff:    kcfg.RetryBackoff,
			DeadLetterTopic: kcfg.DLQTopic,
			Retryable:       appHeatmap.IsRetryable,
		},
	}
}

// RunWorker consumes build jobs until ctx is cancelled. Worker.Concurrency
// consumers share one group, so Kafka spreads partitions across them.
func RunWorker(ctx context.Context, a *App, opts WorkerOptions) error {
	kcfg := a.Config.Messaging.Kafka
	if !kcfg.Enabled || a.Producer == nil {
		return errors.InvalidParam("worker requires messaging.kafka.enabled")
	}
	if err := a.InitBuilder(ctx); err != nil {
		return err
	}
	log := a.Logger.Named("worker")

	n := a.Config.Worker.Concurrency
	if n < 1 {
		n = 1
	}
	handler := a.JobHandler()
	consumers := make([]*kafka.Consumer, 0, n)
	defer func() {
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				log.Warn("consumer close failed", logging.Err(err))
			}
		}
	}()
	for i := 0; i < n; i++ {
		c, err := kafka.NewConsumer(a.consumerConfig(), a.Producer, a.Logger)
		if err != nil {
			return err
		}
		c.Subscribe(kcfg.JobTopic, handler)
		if err := c.Start(ctx); err != nil {
			return err
		}
		consumers = append(consumers, c)
	}

	healthRouter := httpserver.NewRouter(httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(opts.Version, a.Ready, a.HealthCheckers()...),
		Metrics:       a.Collector.Handler(),
		Logger:        a.Logger,
	})
	hs := httpserver.NewServer(config.ServerConfig{
		HTTPPort:        a.Config.Worker.HealthPort,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, healthRouter, a.Logger)
	healthErr := make(chan error, 1)
	go func() {
		if opts.HealthListener != nil {
			healthErr <- hs.Serve(opts.HealthListener)
			return
		}
		healthErr <- hs.Start()
	}()

	log.Info("worker started",
		logging.Int("consumers", n),
		logging.String("topic", kcfg.JobTopic),
		logging.String("group", kcfg.GroupID))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-healthErr:
		if runErr != nil {
			log.Error("health server failed", logging.Err(runErr))
		}
	}
	if err := hs.Stop(context.Background()); err != nil {
		log.Warn("health server shutdown failed", logging.Err(err))
	}
	log.Info("worker stopped")
	return runErr
}

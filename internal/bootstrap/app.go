// Package bootstrap assembles the heatmap builder and its optional backends
// from a Config. The apiserver, the worker and the CLI share it.
package bootstrap

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/database/neo4j"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/database/postgres"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/database/redis"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/search/opensearch"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/storage/minio"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/common"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/gcn"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// App holds every constructed component. Backends whose config section is
// disabled stay nil.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.HeatmapMetrics
	ModelMet  common.IntelligenceMetrics

	Postgres   *postgres.Connection
	Pool       *pgxpool.Pool
	Runs       *repositories.RunRepository
	RunQueries *repositories.RunQueries
	Redis      *redis.Client
	Cache      *redis.HeatmapCache
	Locker     *redis.BuildLocker
	Neo4j      *neo4j.Driver
	Graph      *neo4j.CandidateStore
	OpenSearch *opensearch.Client
	RunIndex   *opensearch.RunIndex
	MinIO      *minio.Client
	Artifacts  *minio.ArtifactStore
	Producer   *kafka.Producer
	Events     *kafka.EventPublisher
	Jobs       *kafka.JobPublisher

	// Set by InitBuilder.
	Models  *gcn.ModelManager
	Engine  *gcn.Engine
	Service appHeatmap.Service
	Runner  *appHeatmap.JobRunner

	mu      sync.Mutex
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// New connects every enabled backend. A failing backend aborts startup and
// releases whatever was already opened.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.InvalidParam("config is required")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	a := &App{Config: cfg, Logger: log.Named("bootstrap")}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"metrics", a.initMetrics},
		{"minio", a.initMinIO},
		{"postgres", a.initPostgres},
		{"redis", a.initRedis},
		{"neo4j", a.initNeo4j},
		{"opensearch", a.initOpenSearch},
		{"kafka", a.initKafka},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			a.Logger.Error("component init failed", logging.String("component", step.name), logging.Err(err))
			_ = a.Close(context.Background())
			return nil, err
		}
	}
	return a, nil
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.mu.Lock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
	a.mu.Unlock()
}

// Close releases components in reverse order of construction. It returns the
// first error and keeps going after it.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("close failed", logging.String("component", c.name), logging.Err(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (a *App) initMetrics(context.Context) error {
	ns := a.Config.Metrics.Namespace
	if ns == "" {
		ns = config.DefaultMetricsNamespace
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            ns,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, a.Logger)
	if err != nil {
		return err
	}
	modelMet, err := common.NewPrometheusIntelligenceMetrics(collector.Registerer(), ns)
	if err != nil {
		return err
	}
	a.Collector = collector
	a.Metrics = prometheus.NewHeatmapMetrics(collector)
	a.ModelMet = modelMet
	return nil
}

func (a *App) initMinIO(ctx context.Context) error {
	cfg := a.Config.Storage.MinIO
	if !cfg.Enabled {
		return nil
	}
	client, err := minio.NewClient(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return err
	}
	if err := client.SetupLifecycle(ctx); err != nil {
		a.Logger.Warn("minio lifecycle rule not applied", logging.Err(err))
	}
	a.MinIO = client
	a.Artifacts = minio.NewArtifactStore(client, a.Logger)
	return nil
}

func (a *App) initPostgres(ctx context.Context) error {
	cfg := a.Config.Database.Postgres
	if !cfg.Enabled {
		return nil
	}
	conn, err := postgres.NewConnection(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}
	a.Postgres = conn
	a.addCloser("postgres", func(context.Context) error { return conn.Close() })

	if cfg.AutoMigrate {
		if err := conn.Migrate(cfg.MigrationPath); err != nil {
			return err
		}
	}

	pool, err := postgres.NewPool(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}
	a.Pool = pool
	a.addCloser("pgxpool", func(context.Context) error { pool.Close(); return nil })

	a.Runs = repositories.NewRunRepository(pool, a.Logger)
	a.RunQueries = repositories.NewRunQueries(conn.DB(), a.Logger)
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	cfg := a.Config.Database.Redis
	if !cfg.Enabled {
		return nil
	}
	client, err := redis.NewClient(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}
	a.Redis = client
	a.addCloser("redis", func(context.Context) error { return client.Close() })
	a.Cache = redis.NewHeatmapCache(client, a.Logger)
	a.Locker = redis.NewBuildLocker(client, a.Logger, redis.WithRetry(3, 200*time.Millisecond), redis.WithWatchdog(0))
	return nil
}

func (a *App) initNeo4j(ctx context.Context) error {
	cfg := a.Config.Database.Neo4j
	if !cfg.Enabled {
		return nil
	}
	driver, err := neo4j.NewDriver(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}
	a.Neo4j = driver
	a.addCloser("neo4j", driver.Close)
	a.Graph = neo4j.NewCandidateStore(driver, 0, a.Logger)
	if err := a.Graph.EnsureSchema(ctx); err != nil {
		a.Logger.Warn("neo4j schema not ensured", logging.Err(err))
	}
	return nil
}

func (a *App) initOpenSearch(ctx context.Context) error {
	cfg := a.Config.Search.OpenSearch
	if !cfg.Enabled {
		return nil
	}
	client, err := opensearch.NewClient(ctx, cfg, opensearch.ClientOptions{}, a.Logger)
	if err != nil {
		return err
	}
	a.OpenSearch = client
	a.addCloser("opensearch", func(context.Context) error { return client.Close() })
	a.RunIndex = opensearch.NewRunIndex(client, cfg.Index, "false", a.Logger)
	if err := a.RunIndex.EnsureIndex(ctx); err != nil {
		return err
	}
	return nil
}

func (a *App) initKafka(ctx context.Context) error {
	cfg := a.Config.Messaging.Kafka
	if !cfg.Enabled {
		return nil
	}
	if tm, err := kafka.NewTopicManager(cfg.Brokers, a.Logger); err != nil {
		a.Logger.Warn("kafka topic manager unavailable", logging.Err(err))
	} else {
		if err := tm.EnsureTopics(ctx, kafka.DefaultTopics(cfg)); err != nil {
			a.Logger.Warn("kafka topics not ensured", logging.Err(err))
		}
		_ = tm.Close()
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		Acks:         "all",
		MaxRetries:   cfg.MaxRetries,
		BatchTimeout: cfg.BatchTimeout,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Producer = producer
	a.addCloser("kafka_producer", func(context.Context) error { return producer.Close() })
	a.Events = kafka.NewEventPublisher(producer, cfg.ResultTopic)
	a.Jobs = kafka.NewJobPublisher(producer, cfg.JobTopic)
	return nil
}

// InitBuilder loads the model and constructs the build service and the job
// runner. Commands that only talk to backends skip it.
func (a *App) InitBuilder(ctx context.Context) error {
	if a.Service != nil {
		return nil
	}
	cfg := a.Config

	var objects gcn.ObjectOpener
	if a.Artifacts != nil {
		objects = a.Artifacts
	}
	models, err := gcn.NewModelManager(gcn.ManagerConfig{
		Name:               cfg.Model.Name,
		ConfigPath:         cfg.Model.ConfigPath,
		WeightsPath:        cfg.Model.WeightsPath,
		AllowRandomWeights: cfg.Model.AllowRandomWeights,
		RandomSeed:         cfg.Model.RandomSeed,
		Warmup:             cfg.Model.Warmup,
	}, objects, a.Logger, a.ModelMet)
	if err != nil {
		return err
	}
	if err := models.Load(ctx); err != nil {
		return err
	}
	a.Models = models
	a.addCloser("model", func(context.Context) error { models.Unload(); return nil })

	engine, err := gcn.NewEngine(models, gcn.EngineOptions{
		Concurrency:  cfg.Builder.BatchConcurrency,
		BatchTimeout: cfg.Builder.InstanceTimeout,
	}, a.Logger, a.ModelMet)
	if err != nil {
		return err
	}
	a.Engine = engine
	a.addCloser("engine", engine.Close)

	svc, err := appHeatmap.NewService(BuilderOptions(cfg), a.dependencies())
	if err != nil {
		return err
	}
	a.Service = svc
	a.Runner = appHeatmap.NewJobRunner(svc, appHeatmap.JobRunnerOptions{
		RateLimit: cfg.Worker.RateLimit,
		Burst:     cfg.Worker.Burst,
	}, a.Metrics, a.Logger)
	return nil
}

// dependencies leaves an interface nil rather than holding a nil pointer.
func (a *App) dependencies() appHeatmap.Dependencies {
	deps := appHeatmap.Dependencies{
		Predictor: a.Engine,
		ModelName: a.Config.Model.Name,
		Logger:    a.Logger,
	}
	if a.Metrics != nil {
		deps.Metrics = a.Metrics
	}
	if a.Artifacts != nil {
		deps.Artifacts = a.Artifacts
	}
	if a.Cache != nil {
		deps.Cache = a.Cache
	}
	if a.Locker != nil {
		deps.Locker = a.Locker
	}
	if a.Runs != nil {
		deps.Runs = a.Runs
	}
	if a.Events != nil {
		deps.Events = a.Events
	}
	if a.Graph != nil {
		deps.Graph = a.Graph
	}
	if a.RunIndex != nil {
		deps.Index = a.RunIndex
	}
	return deps
}

// BuilderOptions maps the builder, sampling and path sections onto service
// options. Zero values keep the service defaults.
func BuilderOptions(cfg *config.Config) appHeatmap.Options {
	opts := appHeatmap.DefaultOptions()
	if cfg.Paths.DataDir != "" {
		opts.DataDir = filepath.Clean(cfg.Paths.DataDir)
	}
	if cfg.Paths.HeatmapDir != "" {
		opts.HeatmapDir = filepath.Clean(cfg.Paths.HeatmapDir)
	}
	if cfg.Builder.IndexedDataset != "" {
		opts.IndexedDataset = cfg.Builder.IndexedDataset
	}
	if cfg.Sampling.K > 0 {
		opts.K = cfg.Sampling.K
	}
	if cfg.Sampling.KExpand > 0 {
		opts.KExpand = cfg.Sampling.KExpand
	}
	if cfg.Sampling.Seed != 0 {
		opts.Seed = cfg.Sampling.Seed
	}
	if cfg.Builder.BatchSize > 0 {
		opts.BatchSize = cfg.Builder.BatchSize
	}
	if cfg.Builder.Concurrency > 0 {
		opts.Concurrency = cfg.Builder.Concurrency
	}
	if cfg.Builder.GraphTopK > 0 {
		opts.GraphTopK = cfg.Builder.GraphTopK
	}
	if cfg.Database.Redis.LockTTL > 0 {
		opts.LockTTL = cfg.Database.Redis.LockTTL
	}
	opts.InstanceTimeout = cfg.Builder.InstanceTimeout
	opts.SkipStatistics = cfg.Builder.SkipStatistics
	opts.StrictSinks = cfg.Builder.StrictSinks
	opts.CacheEnabled = cfg.Builder.CacheEnabled
	return opts
}

// Ready reports whether the model is loaded.
func (a *App) Ready() bool {
	return a.Models != nil && a.Models.State() == gcn.ModelStateReady
}

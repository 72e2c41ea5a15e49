package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultGRPCPort        = 9090
	DefaultHTTPPort        = 8080
	DefaultServerMode      = "release"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultModelName  = "tsp500"
	DefaultModelDir   = "models"
	DefaultRandomSeed = 1

	// DefaultK is the cluster size fed to the network: a centre and 49 neighbours.
	DefaultK       = 50
	DefaultKExpand = 99
	DefaultSeed    = 1

	DefaultBatchSize        = 16
	DefaultConcurrency      = 1
	DefaultBatchConcurrency = 4
	DefaultInstanceTimeout  = 30 * time.Minute
	DefaultIndexedDataset   = "rei"
	DefaultGraphTopK        = 5

	DefaultDataDir    = "data"
	DefaultHeatmapDir = "heatmap"

	DefaultPGHost          = "localhost"
	DefaultPGPort          = 5432
	DefaultPGDBName        = "gcn_heatmap"
	DefaultPGSSLMode       = "disable"
	DefaultPGMaxConns      = 10
	DefaultPGMinConns      = 1
	DefaultPGConnLifetime  = time.Hour
	DefaultPGMigrationPath = "internal/infrastructure/database/postgres/migrations"

	DefaultRedisMode      = "standalone"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPoolSize  = 10
	DefaultRedisTimeout   = 3 * time.Second
	DefaultRedisKeyPrefix = "gcnhm:"
	DefaultRedisCacheTTL  = 24 * time.Hour
	DefaultRedisLockTTL   = 30 * time.Minute

	DefaultNeo4jURI      = "bolt://localhost:7687"
	DefaultNeo4jDatabase = "neo4j"
	DefaultNeo4jPoolSize = 50
	DefaultNeo4jTimeout  = 10 * time.Second

	DefaultOpenSearchAddr  = "http://localhost:9200"
	DefaultOpenSearchIndex = "heatmap-runs"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "heatmaps"
	DefaultMinIORegion   = "us-east-1"

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "gcn-heatmap-worker"
	DefaultKafkaJobTopic     = "heatmap.build.requested"
	DefaultKafkaResultTopic  = "heatmap.build.completed"
	DefaultKafkaDLQTopic     = "heatmap.build.dlq"
	DefaultKafkaMaxRetries   = 3
	DefaultKafkaRetryBackoff = time.Second
	DefaultKafkaBatchTimeout = 50 * time.Millisecond

	DefaultWorkerConcurrency = 2
	DefaultWorkerBurst       = 1
	DefaultWorkerHealthPort  = 8081

	DefaultMetricsNamespace = "gcn_heatmap"
	DefaultMetricsPath      = "/metrics"
)

// boolDefaults are the defaults ApplyDefaults cannot express because false is
// a legitimate explicit value. They are registered with viper only.
var boolDefaults = map[string]bool{
	"metrics.enabled":                true,
	"builder.cache_enabled":          true,
	"model.warmup":                   true,
	"database.postgres.auto_migrate": true,
}

// ApplyDefaults fills every zero-value field in cfg. Explicitly set values win.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	setInt(&cfg.Server.GRPCPort, DefaultGRPCPort)
	setInt(&cfg.Server.HTTPPort, DefaultHTTPPort)
	setString(&cfg.Server.Mode, DefaultServerMode)
	setDuration(&cfg.Server.ReadTimeout, DefaultReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, DefaultWriteTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)

	// ── Log ───────────────────────────────────────────────────────────────────
	setString(&cfg.Log.Level, DefaultLogLevel)
	setString(&cfg.Log.Format, DefaultLogFormat)
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stdout"}
	}

	// ── Model ─────────────────────────────────────────────────────────────────
	setString(&cfg.Model.Name, DefaultModelName)
	setString(&cfg.Model.Dir, DefaultModelDir)
	if cfg.Model.ConfigPath == "" {
		cfg.Model.ConfigPath = cfg.Model.Dir + "/" + cfg.Model.Name + ".json"
	}
	if cfg.Model.WeightsPath == "" {
		cfg.Model.WeightsPath = cfg.Model.Dir + "/" + cfg.Model.Name + ".weights.json"
	}
	setInt64(&cfg.Model.RandomSeed, DefaultRandomSeed)

	// ── Sampling / builder ────────────────────────────────────────────────────
	setInt(&cfg.Sampling.K, DefaultK)
	setInt(&cfg.Sampling.KExpand, DefaultKExpand)
	setInt64(&cfg.Sampling.Seed, DefaultSeed)
	setInt(&cfg.Builder.BatchSize, DefaultBatchSize)
	setInt(&cfg.Builder.Concurrency, DefaultConcurrency)
	setInt(&cfg.Builder.BatchConcurrency, DefaultBatchConcurrency)
	setDuration(&cfg.Builder.InstanceTimeout, DefaultInstanceTimeout)
	setString(&cfg.Builder.IndexedDataset, DefaultIndexedDataset)
	setInt(&cfg.Builder.GraphTopK, DefaultGraphTopK)
	setString(&cfg.Paths.DataDir, DefaultDataDir)
	setString(&cfg.Paths.HeatmapDir, DefaultHeatmapDir)

	// ── Postgres ──────────────────────────────────────────────────────────────
	pg := &cfg.Database.Postgres
	setString(&pg.Host, DefaultPGHost)
	setInt(&pg.Port, DefaultPGPort)
	setString(&pg.DBName, DefaultPGDBName)
	setString(&pg.SSLMode, DefaultPGSSLMode)
	setInt(&pg.MaxConns, DefaultPGMaxConns)
	setInt(&pg.MinConns, DefaultPGMinConns)
	setDuration(&pg.ConnMaxLifetime, DefaultPGConnLifetime)
	setString(&pg.MigrationPath, DefaultPGMigrationPath)

	// ── Redis ─────────────────────────────────────────────────────────────────
	r := &cfg.Database.Redis
	setString(&r.Mode, DefaultRedisMode)
	if len(r.Addrs) == 0 {
		r.Addrs = []string{DefaultRedisAddr}
	}
	setInt(&r.PoolSize, DefaultRedisPoolSize)
	setDuration(&r.DialTimeout, DefaultRedisTimeout)
	setDuration(&r.ReadTimeout, DefaultRedisTimeout)
	setDuration(&r.WriteTimeout, DefaultRedisTimeout)
	setString(&r.KeyPrefix, DefaultRedisKeyPrefix)
	setDuration(&r.CacheTTL, DefaultRedisCacheTTL)
	setDuration(&r.LockTTL, DefaultRedisLockTTL)

	// ── Neo4j ─────────────────────────────────────────────────────────────────
	n := &cfg.Database.Neo4j
	setString(&n.URI, DefaultNeo4jURI)
	setString(&n.Database, DefaultNeo4jDatabase)
	setInt(&n.MaxConnectionPoolSize, DefaultNeo4jPoolSize)
	setDuration(&n.ConnectionTimeout, DefaultNeo4jTimeout)

	// ── OpenSearch ────────────────────────────────────────────────────────────
	if len(cfg.Search.OpenSearch.Addresses) == 0 {
		cfg.Search.OpenSearch.Addresses = []string{DefaultOpenSearchAddr}
	}
	setString(&cfg.Search.OpenSearch.Index, DefaultOpenSearchIndex)

	// ── MinIO ─────────────────────────────────────────────────────────────────
	m := &cfg.Storage.MinIO
	setString(&m.Endpoint, DefaultMinIOEndpoint)
	setString(&m.Bucket, DefaultMinIOBucket)
	setString(&m.Region, DefaultMinIORegion)

	// ── Kafka ─────────────────────────────────────────────────────────────────
	k := &cfg.Messaging.Kafka
	if len(k.Brokers) == 0 {
		k.Brokers = []string{DefaultKafkaBroker}
	}
	setString(&k.GroupID, DefaultKafkaGroupID)
	setString(&k.JobTopic, DefaultKafkaJobTopic)
	setString(&k.ResultTopic, DefaultKafkaResultTopic)
	setString(&k.DLQTopic, DefaultKafkaDLQTopic)
	setInt(&k.MaxRetries, DefaultKafkaMaxRetries)
	setDuration(&k.RetryBackoff, DefaultKafkaRetryBackoff)
	setDuration(&k.BatchTimeout, DefaultKafkaBatchTimeout)

	// ── Worker / metrics ──────────────────────────────────────────────────────
	setInt(&cfg.Worker.Concurrency, DefaultWorkerConcurrency)
	setInt(&cfg.Worker.Burst, DefaultWorkerBurst)
	setInt(&cfg.Worker.HealthPort, DefaultWorkerHealthPort)
	setString(&cfg.Metrics.Namespace, DefaultMetricsNamespace)
	setString(&cfg.Metrics.Path, DefaultMetricsPath)
}

// Default returns a fully defaulted Config with all backends disabled.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Metrics.Enabled = boolDefaults["metrics.enabled"]
	cfg.Builder.CacheEnabled = boolDefaults["builder.cache_enabled"]
	cfg.Model.Warmup = boolDefaults["model.warmup"]
	cfg.Database.Postgres.AutoMigrate = boolDefaults["database.postgres.auto_migrate"]
	return cfg
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setInt64(dst *int64, def int64) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

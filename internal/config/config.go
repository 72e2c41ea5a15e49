// Package config defines the configuration structures of the heatmap
// pipeline. Loading lives in loader.go and defaults in defaults.go; this file
// holds plain data types and validation only.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds the gRPC and HTTP listener tunables of the apiserver.
type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit caps /api/v1 requests per client per second; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// LogConfig mirrors logging.LogConfig so that this package stays free of the
// logging implementation.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ModelConfig locates the network architecture file and its weights.
// WeightsPath accepts a local path or a minio://bucket/key URI.
type ModelConfig struct {
	Name               string `mapstructure:"name"`
	Dir                string `mapstructure:"dir"`
	ConfigPath         string `mapstructure:"config_path"`
	WeightsPath        string `mapstructure:"weights_path"`
	AllowRandomWeights bool   `mapstructure:"allow_random_weights"`
	RandomSeed         int64  `mapstructure:"random_seed"`
	Warmup             bool   `mapstructure:"warmup"`
}

// SamplingConfig controls cluster construction. K is the cluster size
// (centre plus K-1 neighbours); KExpand is the neighbour pool used once every
// node has been covered.
type SamplingConfig struct {
	K       int   `mapstructure:"k"`
	KExpand int   `mapstructure:"k_expand"`
	Seed    int64 `mapstructure:"seed"`
}

// BuilderConfig tunes the heatmap builder.
type BuilderConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	Concurrency      int           `mapstructure:"concurrency"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	InstanceTimeout  time.Duration `mapstructure:"instance_timeout"`
	IndexedDataset   string        `mapstructure:"indexed_dataset"`
	SkipStatistics   bool          `mapstructure:"skip_statistics"`
	StrictSinks      bool          `mapstructure:"strict_sinks"`
	CacheEnabled     bool          `mapstructure:"cache_enabled"`
	GraphTopK        int           `mapstructure:"graph_top_k"`
}

// PathsConfig holds the local directory conventions.
type PathsConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	HeatmapDir string `mapstructure:"heatmap_dir"`
}

// PostgresConfig holds PostgreSQL connection parameters for run records.
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis parameters for the heatmap cache and build lock.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Mode         string        `mapstructure:"mode"` // "standalone" | "sentinel" | "cluster"
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// Neo4jConfig holds the candidate edge graph store parameters.
type Neo4jConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	URI                   string        `mapstructure:"uri"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Database              string        `mapstructure:"database"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout"`
}

// DatabaseConfig groups the database backends.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
}

// OpenSearchConfig holds the run summary index parameters.
type OpenSearchConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Addresses          []string `mapstructure:"addresses"`
	Username           string   `mapstructure:"username"`
	Password           string   `mapstructure:"password"`
	Index              string   `mapstructure:"index"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
}

// SearchConfig groups search backends.
type SearchConfig struct {
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
}

// MinIOConfig holds object storage parameters for heatmap artifacts and
// weight files.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	// ArtifactRetentionDays sets a lifecycle expiry on uploaded heatmaps; 0 keeps them.
	ArtifactRetentionDays int `mapstructure:"artifact_retention_days"`
}

// StorageConfig groups storage backends.
type StorageConfig struct {
	MinIO MinIOConfig `mapstructure:"minio"`
}

// KafkaConfig holds build job messaging parameters.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	JobTopic     string        `mapstructure:"job_topic"`
	ResultTopic  string        `mapstructure:"result_topic"`
	DLQTopic     string        `mapstructure:"dlq_topic"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// MessagingConfig groups messaging backends.
type MessagingConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// WorkerConfig tunes the Kafka-driven build worker.
type WorkerConfig struct {
	Concurrency int     `mapstructure:"concurrency"`
	RateLimit   float64 `mapstructure:"rate_limit"` // jobs per second, 0 = unlimited
	Burst       int     `mapstructure:"burst"`
	HealthPort  int     `mapstructure:"health_port"`
	// JobTimeout bounds one whole build job; 0 means no bound.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Model     ModelConfig     `mapstructure:"model"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Builder   BuilderConfig   `mapstructure:"builder"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate performs semantic validation of a defaulted Config. Backends are
// only checked when enabled.
func (c *Config) Validate() error {
	if !validPort(c.Server.GRPCPort) {
		return fmt.Errorf("config: server.grpc_port %d is out of range [1, 65535]", c.Server.GRPCPort)
	}
	if !validPort(c.Server.HTTPPort) {
		return fmt.Errorf("config: server.http_port %d is out of range [1, 65535]", c.Server.HTTPPort)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Model.Name == "" {
		return fmt.Errorf("config: model.name is required")
	}

	if c.Sampling.K < 2 {
		return fmt.Errorf("config: sampling.k must be ≥ 2, got %d", c.Sampling.K)
	}
	if c.Sampling.KExpand < c.Sampling.K-1 {
		return fmt.Errorf("config: sampling.k_expand %d must be ≥ sampling.k-1 (%d)", c.Sampling.KExpand, c.Sampling.K-1)
	}

	if c.Builder.BatchSize < 1 {
		return fmt.Errorf("config: builder.batch_size must be ≥ 1, got %d", c.Builder.BatchSize)
	}
	if c.Builder.Concurrency < 1 {
		return fmt.Errorf("config: builder.concurrency must be ≥ 1, got %d", c.Builder.Concurrency)
	}
	if c.Builder.BatchConcurrency < 1 {
		return fmt.Errorf("config: builder.batch_concurrency must be ≥ 1, got %d", c.Builder.BatchConcurrency)
	}
	if c.Builder.GraphTopK < 1 {
		return fmt.Errorf("config: builder.graph_top_k must be ≥ 1, got %d", c.Builder.GraphTopK)
	}

	if pg := c.Database.Postgres; pg.Enabled {
		if pg.Host == "" {
			return fmt.Errorf("config: database.postgres.host is required")
		}
		if !validPort(pg.Port) {
			return fmt.Errorf("config: database.postgres.port %d is out of range [1, 65535]", pg.Port)
		}
		if pg.User == "" || pg.DBName == "" {
			return fmt.Errorf("config: database.postgres.user and db_name are required")
		}
		if pg.MaxConns < 1 {
			return fmt.Errorf("config: database.postgres.max_conns must be ≥ 1, got %d", pg.MaxConns)
		}
	}

	if r := c.Database.Redis; r.Enabled {
		if len(r.Addrs) == 0 {
			return fmt.Errorf("config: database.redis.addrs must contain at least one address")
		}
		switch r.Mode {
		case "standalone", "cluster":
		case "sentinel":
			if r.MasterName == "" {
				return fmt.Errorf("config: database.redis.master_name is required in sentinel mode")
			}
		default:
			return fmt.Errorf("config: database.redis.mode %q is invalid; expected standalone|sentinel|cluster", r.Mode)
		}
		if r.DB < 0 {
			return fmt.Errorf("config: database.redis.db must be ≥ 0, got %d", r.DB)
		}
	}

	if n := c.Database.Neo4j; n.Enabled && n.URI == "" {
		return fmt.Errorf("config: database.neo4j.uri is required")
	}

	if o := c.Search.OpenSearch; o.Enabled {
		if len(o.Addresses) == 0 {
			return fmt.Errorf("config: search.opensearch.addresses must contain at least one address")
		}
		if o.Index == "" {
			return fmt.Errorf("config: search.opensearch.index is required")
		}
	}

	if m := c.Storage.MinIO; m.Enabled {
		if m.Endpoint == "" || m.Bucket == "" {
			return fmt.Errorf("config: storage.minio.endpoint and bucket are required")
		}
	}

	if k := c.Messaging.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("config: messaging.kafka.brokers must contain at least one broker address")
		}
		if k.GroupID == "" || k.JobTopic == "" || k.ResultTopic == "" {
			return fmt.Errorf("config: messaging.kafka.group_id, job_topic and result_topic are required")
		}
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be ≥ 1, got %d", c.Worker.Concurrency)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must be ≥ 0, got %g", c.Server.RateLimit)
	}
	if c.Worker.RateLimit < 0 {
		return fmt.Errorf("config: worker.rate_limit must be ≥ 0, got %g", c.Worker.RateLimit)
	}
	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("config: worker.job_timeout must be ≥ 0, got %s", c.Worker.JobTimeout)
	}

	return nil
}

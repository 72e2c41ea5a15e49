package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultGRPCPort, cfg.Server.GRPCPort)
	assert.Equal(t, DefaultK, cfg.Sampling.K)
	assert.Equal(t, DefaultKExpand, cfg.Sampling.KExpand)
	assert.Equal(t, DefaultBatchSize, cfg.Builder.BatchSize)
	assert.Equal(t, "rei", cfg.Builder.IndexedDataset)
	assert.Equal(t, "models/tsp500.json", cfg.Model.ConfigPath)
	assert.Equal(t, "models/tsp500.weights.json", cfg.Model.WeightsPath)
	assert.Equal(t, []string{DefaultRedisAddr}, cfg.Database.Redis.Addrs)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Messaging.Kafka.Brokers)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Model.Name = "tsp10000"
	cfg.Model.Dir = "/opt/models"
	cfg.Builder.BatchSize = 64
	cfg.Database.Redis.CacheTTL = time.Minute

	ApplyDefaults(cfg)

	assert.Equal(t, 64, cfg.Builder.BatchSize)
	assert.Equal(t, "/opt/models/tsp10000.json", cfg.Model.ConfigPath)
	assert.Equal(t, time.Minute, cfg.Database.Redis.CacheTTL)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestDefault_BoolDefaults(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Builder.CacheEnabled)
	assert.False(t, cfg.Builder.SkipStatistics)
	assert.False(t, cfg.Storage.MinIO.Enabled)
}

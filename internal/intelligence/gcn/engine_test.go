package gcn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/internal/intelligence/common"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

type staticProvider struct {
	model *Model
	err   error
}

func (p staticProvider) Model() (*Model, error) { return p.model, p.err }

func TestEngine_PredictMatchesBatchedForward(t *testing.T) {
	m, _ := tinyModel(t, 2)
	clusters := testClusters(t, 24, 4, 13)
	require.Greater(t, len(clusters), 3)

	metrics := common.NewInMemoryIntelligenceMetrics()
	eng, err := NewEngine(staticProvider{model: m}, EngineOptions{Concurrency: 3}, nil, metrics)
	require.NoError(t, err)

	got, err := eng.Predict(context.Background(), clusters, 3)
	require.NoError(t, err)
	require.Len(t, got, len(clusters))

	for start := 0; start < len(clusters); start += 3 {
		end := start + 3
		if end > len(clusters) {
			end = len(clusters)
		}
		want, err := m.Predict(clusters[start:end])
		require.NoError(t, err)
		assert.Equal(t, want, got[start:end], "batch at %d", start)
	}

	assert.Len(t, metrics.Inferences(), (len(clusters)+2)/3)
	require.Len(t, metrics.Batches(), 1)
	assert.Equal(t, "gcn_forward", metrics.Batches()[0].BatchName)
	require.NoError(t, eng.Close(context.Background()))
}

func TestEngine_DefaultBatchSize(t *testing.T) {
	m, _ := tinyModel(t, 2)
	clusters := testClusters(t, 24, 4, 14)
	metrics := common.NewInMemoryIntelligenceMetrics()
	eng, err := NewEngine(staticProvider{model: m}, EngineOptions{}, nil, metrics)
	require.NoError(t, err)

	_, err = eng.Predict(context.Background(), clusters, 0)
	require.NoError(t, err)
	for _, inf := range metrics.Inferences() {
		assert.LessOrEqual(t, inf.BatchSize, DefaultBatchSize)
		assert.Equal(t, 4, inf.ClusterSize)
	}
}

func TestEngine_Errors(t *testing.T) {
	_, err := NewEngine(nil, EngineOptions{}, nil, nil)
	assert.Error(t, err)

	eng, err := NewEngine(staticProvider{err: errors.New(errors.CodeModelNotLoaded, "not loaded")}, EngineOptions{}, nil, nil)
	require.NoError(t, err)
	out, err := eng.Predict(context.Background(), nil, 4)
	assert.NoError(t, err)
	assert.Nil(t, out)

	clusters := testClusters(t, 12, 4, 15)
	_, err = eng.Predict(context.Background(), clusters, 4)
	assert.True(t, errors.IsCode(err, errors.CodeModelNotLoaded))

	m, _ := tinyModel(t, 2)
	eng, err = NewEngine(staticProvider{model: m}, EngineOptions{}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Predict(ctx, clusters, 4)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInferenceFailed))
}

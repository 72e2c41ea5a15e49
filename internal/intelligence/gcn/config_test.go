package gcn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

func TestDefaultModelConfig_Valid(t *testing.T) {
	cfg := DefaultModelConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300, cfg.HiddenDim)
	assert.Equal(t, AggregationMean, cfg.Aggregation)
}

func TestModelConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ModelConfig)
	}{
		{"node dim", func(c *ModelConfig) { c.NodeDim = 3 }},
		{"edge vocabulary", func(c *ModelConfig) { c.VocEdgesIn = 2 }},
		{"classes", func(c *ModelConfig) { c.VocEdgesOut = 1 }},
		{"odd hidden", func(c *ModelConfig) { c.HiddenDim = 5 }},
		{"zero hidden", func(c *ModelConfig) { c.HiddenDim = 0 }},
		{"layers", func(c *ModelConfig) { c.NumLayers = 0 }},
		{"mlp", func(c *ModelConfig) { c.MLPLayers = 0 }},
		{"aggregation", func(c *ModelConfig) { c.Aggregation = "max" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tinyConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeModelConfigInvalid))
		})
	}
}

func TestParseModelConfig(t *testing.T) {
	cfg, err := ParseModelConfig(strings.NewReader(`{
		"name": "tsp100", "num_nodes": 100, "hidden_dim": 64, "num_layers": 4,
		"aggregation": "sum", "learning_rate": 0.001, "batch_size": 20
	}`))
	require.NoError(t, err)
	assert.Equal(t, "tsp100", cfg.Name)
	assert.Equal(t, 64, cfg.HiddenDim)
	assert.Equal(t, 4, cfg.NumLayers)
	assert.Equal(t, AggregationSum, cfg.Aggregation)
	assert.Equal(t, 3, cfg.MLPLayers, "missing keys keep defaults")

	_, err = ParseModelConfig(strings.NewReader(`{"hidden_dim": 7}`))
	assert.True(t, errors.IsCode(err, errors.CodeModelConfigInvalid))

	_, err = ParseModelConfig(strings.NewReader(`{`))
	assert.True(t, errors.IsCode(err, errors.CodeModelConfigInvalid))
}

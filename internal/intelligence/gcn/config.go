package gcn

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// Aggregation selects how gated neighbour messages are combined.
type Aggregation string

const (
	AggregationMean Aggregation = "mean"
	AggregationSum  Aggregation = "sum"
)

// ModelConfig describes the residual gated GCN architecture. Field names match
// the JSON configs shipped with trained checkpoints; unknown keys are ignored.
type ModelConfig struct {
	Name        string      `json:"name" yaml:"name"`
	NumNodes    int         `json:"num_nodes" yaml:"num_nodes"`
	NodeDim     int         `json:"node_dim" yaml:"node_dim"`
	VocEdgesIn  int         `json:"voc_edges_in" yaml:"voc_edges_in"`
	VocEdgesOut int         `json:"voc_edges_out" yaml:"voc_edges_out"`
	HiddenDim   int         `json:"hidden_dim" yaml:"hidden_dim"`
	NumLayers   int         `json:"num_layers" yaml:"num_layers"`
	MLPLayers   int         `json:"mlp_layers" yaml:"mlp_layers"`
	Aggregation Aggregation `json:"aggregation" yaml:"aggregation"`
}

// DefaultModelConfig returns the 50-node architecture the heatmaps were
// trained with.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Name:        "tsp50",
		NumNodes:    50,
		NodeDim:     2,
		VocEdgesIn:  3,
		VocEdgesOut: 2,
		HiddenDim:   300,
		NumLayers:   30,
		MLPLayers:   3,
		Aggregation: AggregationMean,
	}
}

// Validate checks the architecture is one the forward pass supports.
func (c ModelConfig) Validate() error {
	invalid := func(msg string) error {
		return errors.New(errors.CodeModelConfigInvalid, msg).WithDetailf("model %q", c.Name)
	}
	switch {
	case c.NodeDim != 2:
		return invalid("node_dim must be 2")
	case c.VocEdgesIn < 3:
		return invalid("voc_edges_in must be at least 3")
	case c.VocEdgesOut < 2:
		return invalid("voc_edges_out must be at least 2")
	case c.HiddenDim <= 0 || c.HiddenDim%2 != 0:
		return invalid("hidden_dim must be positive and even")
	case c.NumLayers < 1:
		return invalid("num_layers must be at least 1")
	case c.MLPLayers < 1:
		return invalid("mlp_layers must be at least 1")
	case c.Aggregation != AggregationMean && c.Aggregation != AggregationSum:
		return invalid("aggregation must be mean or sum")
	}
	return nil
}

// SameArchitecture reports whether o has the same layer shapes as c. Name and
// NumNodes do not affect the weights.
func (c ModelConfig) SameArchitecture(o ModelConfig) bool {
	return c.NodeDim == o.NodeDim &&
		c.VocEdgesIn == o.VocEdgesIn &&
		c.VocEdgesOut == o.VocEdgesOut &&
		c.HiddenDim == o.HiddenDim &&
		c.NumLayers == o.NumLayers &&
		c.MLPLayers == o.MLPLayers &&
		c.Aggregation == o.Aggregation
}

func (c ModelConfig) String() string {
	return fmt.Sprintf("%s(hidden=%d layers=%d mlp=%d agg=%s)", c.Name, c.HiddenDim, c.NumLayers, c.MLPLayers, c.Aggregation)
}

// ParseModelConfig decodes a JSON config. Missing fields take the defaults.
func ParseModelConfig(r io.Reader) (ModelConfig, error) {
	cfg := DefaultModelConfig()
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return ModelConfig{}, errors.Wrap(err, errors.CodeModelConfigInvalid, "decode model config")
	}
	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, err
	}
	return cfg, nil
}

// LoadModelConfig reads a JSON config file.
func LoadModelConfig(path string) (ModelConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return ModelConfig{}, errors.Wrap(err, errors.CodeModelLoadFailed, "open model config").WithDetail(path)
	}
	defer f.Close()
	return ParseModelConfig(f)
}

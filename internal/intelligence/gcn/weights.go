package gcn

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

const (
	// FormatNative is the layout written by SaveWeights.
	FormatNative = "gcn-heatmap/v1"

	// FormatStateDict holds flattened tensors keyed by their checkpoint names.
	FormatStateDict = "state_dict"
)

// Matrix is a row-major dense matrix.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func newMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (m Matrix) check(name string, rows, cols int) error {
	if m.Rows != rows || m.Cols != cols || len(m.Data) != rows*cols {
		return errors.Newf(errors.CodeWeightsMismatch, "%s: want %dx%d, got %dx%d (%d values)",
			name, rows, cols, m.Rows, m.Cols, len(m.Data))
	}
	return nil
}

// Linear is y = xWᵀ + b. Weight is out×in.
type Linear struct {
	Weight Matrix    `json:"weight"`
	Bias   []float64 `json:"bias"`
}

func (l Linear) check(name string, in, out int) error {
	if err := l.Weight.check(name+".weight", out, in); err != nil {
		return err
	}
	if len(l.Bias) != out {
		return errors.Newf(errors.CodeWeightsMismatch, "%s.bias: want %d values, got %d", name, out, len(l.Bias))
	}
	return nil
}

// BatchNorm holds the affine parameters of a batch normalisation.
type BatchNorm struct {
	Gamma []float64 `json:"gamma"`
	Beta  []float64 `json:"beta"`
}

func (b BatchNorm) check(name string, dim int) error {
	if len(b.Gamma) != dim || len(b.Beta) != dim {
		return errors.Newf(errors.CodeWeightsMismatch, "%s: want %d gamma/beta values, got %d/%d",
			name, dim, len(b.Gamma), len(b.Beta))
	}
	return nil
}

// LayerWeights are the parameters of one residual gated layer.
type LayerWeights struct {
	NodeU  Linear    `json:"node_u"`
	NodeV  Linear    `json:"node_v"`
	EdgeU  Linear    `json:"edge_u"`
	EdgeV  Linear    `json:"edge_v"`
	NodeBN BatchNorm `json:"node_bn"`
	EdgeBN BatchNorm `json:"edge_bn"`
}

// MLPWeights map edge features to class logits.
type MLPWeights struct {
	Hidden []Linear `json:"hidden"`
	Out    Linear   `json:"out"`
}

// Weights is a full parameter set for one ModelConfig.
type Weights struct {
	Format string      `json:"format"`
	Config ModelConfig `json:"config"`

	// NodeCoordEmbedding is H×node_dim, no bias.
	NodeCoordEmbedding Matrix `json:"node_coord_embedding"`
	// EdgeValueEmbedding is H/2×1, no bias.
	EdgeValueEmbedding Matrix `json:"edge_value_embedding"`
	// EdgeTagEmbedding is voc_edges_in×H/2.
	EdgeTagEmbedding Matrix `json:"edge_tag_embedding"`

	Layers []LayerWeights `json:"layers"`
	MLP    MLPWeights     `json:"mlp"`
}

// Validate checks every tensor shape against cfg.
func (w *Weights) Validate(cfg ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h, half := cfg.HiddenDim, cfg.HiddenDim/2
	if err := w.NodeCoordEmbedding.check("node_coord_embedding", h, cfg.NodeDim); err != nil {
		return err
	}
	if err := w.EdgeValueEmbedding.check("edge_value_embedding", half, 1); err != nil {
		return err
	}
	if err := w.EdgeTagEmbedding.check("edge_tag_embedding", cfg.VocEdgesIn, half); err != nil {
		return err
	}
	if len(w.Layers) != cfg.NumLayers {
		return errors.Newf(errors.CodeWeightsMismatch, "want %d layers, got %d", cfg.NumLayers, len(w.Layers))
	}
	for i, l := range w.Layers {
		p := fmt.Sprintf("layers.%d", i)
		for _, c := range []struct {
			name string
			lin  Linear
		}{{"node_u", l.NodeU}, {"node_v", l.NodeV}, {"edge_u", l.EdgeU}, {"edge_v", l.EdgeV}} {
			if err := c.lin.check(p+"."+c.name, h, h); err != nil {
				return err
			}
		}
		if err := l.NodeBN.check(p+".node_bn", h); err != nil {
			return err
		}
		if err := l.EdgeBN.check(p+".edge_bn", h); err != nil {
			return err
		}
	}
	if len(w.MLP.Hidden) != cfg.MLPLayers-1 {
		return errors.Newf(errors.CodeWeightsMismatch, "want %d hidden mlp layers, got %d", cfg.MLPLayers-1, len(w.MLP.Hidden))
	}
	for i, l := range w.MLP.Hidden {
		if err := l.check(fmt.Sprintf("mlp.hidden.%d", i), h, h); err != nil {
			return err
		}
	}
	return w.MLP.Out.check("mlp.out", h, cfg.VocEdgesOut)
}

// RandomWeights draws Xavier-uniform weights with zero biases and identity
// batch-norm affines.
func RandomWeights(cfg ModelConfig, rng *rand.Rand) (*Weights, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	xavier := func(rows, cols int) Matrix {
		m := newMatrix(rows, cols)
		bound := math.Sqrt(6.0 / float64(rows+cols))
		for i := range m.Data {
			m.Data[i] = (2*rng.Float64() - 1) * bound
		}
		return m
	}
	linear := func(in, out int) Linear {
		return Linear{Weight: xavier(out, in), Bias: make([]float64, out)}
	}
	bn := func(dim int) BatchNorm {
		g := make([]float64, dim)
		for i := range g {
			g[i] = 1
		}
		return BatchNorm{Gamma: g, Beta: make([]float64, dim)}
	}

	h, half := cfg.HiddenDim, cfg.HiddenDim/2
	w := &Weights{
		Format:             FormatNative,
		Config:             cfg,
		NodeCoordEmbedding: xavier(h, cfg.NodeDim),
		EdgeValueEmbedding: xavier(half, 1),
		EdgeTagEmbedding:   xavier(cfg.VocEdgesIn, half),
		Layers:             make([]LayerWeights, cfg.NumLayers),
		MLP:                MLPWeights{Hidden: make([]Linear, cfg.MLPLayers-1)},
	}
	for i := range w.Layers {
		w.Layers[i] = LayerWeights{
			NodeU: linear(h, h), NodeV: linear(h, h),
			EdgeU: linear(h, h), EdgeV: linear(h, h),
			NodeBN: bn(h), EdgeBN: bn(h),
		}
	}
	for i := range w.MLP.Hidden {
		w.MLP.Hidden[i] = linear(h, h)
	}
	w.MLP.Out = linear(h, cfg.VocEdgesOut)
	return w, nil
}

// ReadWeights decodes either the native layout or a state_dict export. cfg is
// used when the document does not embed its own config.
func ReadWeights(r io.Reader, cfg ModelConfig) (*Weights, error) {
	var doc struct {
		Format  string                 `json:"format"`
		Config  json.RawMessage        `json:"config"`
		Tensors map[string]stateTensor `json:"tensors"`
	}
	raw, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeModelLoadFailed, "read weights")
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeModelLoadFailed, "decode weights")
	}
	if len(doc.Config) > 0 && string(doc.Config) != "null" {
		embedded := DefaultModelConfig()
		if err := json.Unmarshal(doc.Config, &embedded); err != nil {
			return nil, errors.Wrap(err, errors.CodeModelConfigInvalid, "decode embedded config")
		}
		cfg = embedded
	}

	var w *Weights
	switch doc.Format {
	case FormatNative, "":
		w = &Weights{}
		if err := json.Unmarshal(raw, w); err != nil {
			return nil, errors.Wrap(err, errors.CodeModelLoadFailed, "decode native weights")
		}
	case FormatStateDict:
		w, err = fromStateDict(doc.Tensors, cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Newf(errors.CodeModelLoadFailed, "unknown weights format %q", doc.Format)
	}
	w.Format = FormatNative
	w.Config = cfg
	if err := w.Validate(cfg); err != nil {
		return nil, err
	}
	return w, nil
}

// LoadWeights reads a weights file from disk.
func LoadWeights(path string, cfg ModelConfig) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeModelLoadFailed, "open weights").WithDetail(path)
	}
	defer f.Close()
	return ReadWeights(f, cfg)
}

// WriteWeights encodes w in the native layout.
func WriteWeights(wr io.Writer, w *Weights) error {
	out := *w
	out.Format = FormatNative
	enc := json.NewEncoder(wr)
	if err := enc.Encode(&out); err != nil {
		return errors.Wrap(err, errors.CodeModelLoadFailed, "encode weights")
	}
	return nil
}

// SaveWeights writes w to path, creating parent directories.
func SaveWeights(path string, w *Weights) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeModelLoadFailed, "create weights dir").WithDetail(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeModelLoadFailed, "create weights file").WithDetail(path)
	}
	bw := bufio.NewWriter(f)
	if err := WriteWeights(bw, w); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, errors.CodeModelLoadFailed, "flush weights").WithDetail(path)
	}
	return f.Close()
}

type stateTensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// fromStateDict maps checkpoint tensor names onto Weights. A leading
// "module." (data-parallel wrapper) is stripped. 1x1 convolution kernels are
// accepted as linear weights since only the first two dimensions matter.
func fromStateDict(tensors map[string]stateTensor, cfg ModelConfig) (*Weights, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := make(map[string]stateTensor, len(tensors))
	for k, v := range tensors {
		t[strings.TrimPrefix(k, "module.")] = v
	}

	matrix := func(key string, rows, cols int) (Matrix, error) {
		st, ok := t[key]
		if !ok {
			return Matrix{}, errors.Newf(errors.CodeWeightsMismatch, "missing tensor %s", key)
		}
		if len(st.Data) != rows*cols || len(st.Shape) < 2 || st.Shape[0] != rows || st.Shape[1] != cols {
			return Matrix{}, errors.Newf(errors.CodeWeightsMismatch, "tensor %s: want %dx%d, got shape %v", key, rows, cols, st.Shape)
		}
		return Matrix{Rows: rows, Cols: cols, Data: st.Data}, nil
	}
	vector := func(key string, n int) ([]float64, error) {
		st, ok := t[key]
		if !ok {
			return nil, errors.Newf(errors.CodeWeightsMismatch, "missing tensor %s", key)
		}
		if len(st.Data) != n {
			return nil, errors.Newf(errors.CodeWeightsMismatch, "tensor %s: want %d values, got %d", key, n, len(st.Data))
		}
		return st.Data, nil
	}
	linear := func(prefix string, in, out int) (Linear, error) {
		w, err := matrix(prefix+".weight", out, in)
		if err != nil {
			return Linear{}, err
		}
		b, err := vector(prefix+".bias", out)
		if err != nil {
			return Linear{}, err
		}
		return Linear{Weight: w, Bias: b}, nil
	}
	batchNorm := func(prefix string, dim int) (BatchNorm, error) {
		g, err := vector(prefix+".weight", dim)
		if err != nil {
			return BatchNorm{}, err
		}
		b, err := vector(prefix+".bias", dim)
		if err != nil {
			return BatchNorm{}, err
		}
		return BatchNorm{Gamma: g, Beta: b}, nil
	}

	h, half := cfg.HiddenDim, cfg.HiddenDim/2
	w := &Weights{Format: FormatNative, Config: cfg}
	var err error
	if w.NodeCoordEmbedding, err = matrix("nodes_coord_embedding.weight", h, cfg.NodeDim); err != nil {
		return nil, err
	}
	if w.EdgeValueEmbedding, err = matrix("edges_values_embedding.weight", half, 1); err != nil {
		return nil, err
	}
	if w.EdgeTagEmbedding, err = matrix("edges_embedding.weight", cfg.VocEdgesIn, half); err != nil {
		return nil, err
	}

	w.Layers = make([]LayerWeights, cfg.NumLayers)
	for i := range w.Layers {
		p := fmt.Sprintf("gcn_layers.%d.", i)
		l := &w.Layers[i]
		if l.NodeU, err = linear(p+"node_feat.U", h, h); err != nil {
			return nil, err
		}
		if l.NodeV, err = linear(p+"node_feat.V", h, h); err != nil {
			return nil, err
		}
		if l.EdgeU, err = linear(p+"edge_feat.U", h, h); err != nil {
			return nil, err
		}
		if l.EdgeV, err = linear(p+"edge_feat.V", h, h); err != nil {
			return nil, err
		}
		if l.NodeBN, err = batchNorm(p+"bn_node.batch_norm", h); err != nil {
			return nil, err
		}
		if l.EdgeBN, err = batchNorm(p+"bn_edge.batch_norm", h); err != nil {
			return nil, err
		}
	}

	w.MLP.Hidden = make([]Linear, cfg.MLPLayers-1)
	for i := range w.MLP.Hidden {
		if w.MLP.Hidden[i], err = linear(fmt.Sprintf("mlp_edges.U.%d", i), h, h); err != nil {
			return nil, err
		}
	}
	if w.MLP.Out, err = linear("mlp_edges.V", h, cfg.VocEdgesOut); err != nil {
		return nil, err
	}
	return w, nil
}

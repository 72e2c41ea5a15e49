package gcn

import (
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/GCN-Heatmap/internal/intelligence/sampling"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// gateEps keeps the mean aggregation finite when every gate is ~0.
const gateEps = 1e-20

// EdgeClass is the output class that marks an edge as part of the tour.
const EdgeClass = 1

// Logits are the raw K×K×C network outputs for one cluster, row-major.
type Logits struct {
	K, C int
	Data []float64
}

// Softmax normalises each edge's class scores.
func (l Logits) Softmax() Probabilities {
	p := Probabilities{K: l.K, C: l.C, Data: make([]float32, len(l.Data))}
	buf := make([]float64, l.C)
	for off := 0; off < len(l.Data); off += l.C {
		softmax(buf, l.Data[off:off+l.C])
		for c, v := range buf {
			p.Data[off+c] = float32(v)
		}
	}
	return p
}

// Probabilities are the K×K×C class probabilities for one cluster.
type Probabilities struct {
	K, C int
	Data []float32
}

// At returns P(class c) for edge (i, j).
func (p Probabilities) At(i, j, c int) float32 {
	return p.Data[(i*p.K+j)*p.C+c]
}

// Edge returns the probability that edge (i, j) belongs to the tour.
func (p Probabilities) Edge(i, j int) float32 {
	return p.At(i, j, EdgeClass)
}

type layerOps struct {
	nodeU, nodeV, edgeU, edgeV linearOp
	nodeBN, edgeBN             batchNormOp
}

// Model is an immutable residual gated GCN ready for inference. It is safe
// for concurrent use.
type Model struct {
	cfg       ModelConfig
	coordEmb  linearOp
	valueEmb  linearOp
	tagEmb    *mat.Dense
	layers    []layerOps
	mlpHidden []linearOp
	mlpOut    linearOp
}

// NewModel validates w against cfg and prepares the operators.
func NewModel(cfg ModelConfig, w *Weights) (*Model, error) {
	if w == nil {
		return nil, errors.New(errors.CodeModelNotLoaded, "weights are nil")
	}
	if err := w.Validate(cfg); err != nil {
		return nil, err
	}
	m := &Model{
		cfg:      cfg,
		coordEmb: newLinearOp(w.NodeCoordEmbedding, nil),
		valueEmb: newLinearOp(w.EdgeValueEmbedding, nil),
		tagEmb:   mat.NewDense(w.EdgeTagEmbedding.Rows, w.EdgeTagEmbedding.Cols, w.EdgeTagEmbedding.Data),
		layers:   make([]layerOps, len(w.Layers)),
		mlpOut:   newLinearOp(w.MLP.Out.Weight, w.MLP.Out.Bias),
	}
	for i, l := range w.Layers {
		m.layers[i] = layerOps{
			nodeU:  newLinearOp(l.NodeU.Weight, l.NodeU.Bias),
			nodeV:  newLinearOp(l.NodeV.Weight, l.NodeV.Bias),
			edgeU:  newLinearOp(l.EdgeU.Weight, l.EdgeU.Bias),
			edgeV:  newLinearOp(l.EdgeV.Weight, l.EdgeV.Bias),
			nodeBN: batchNormOp{gamma: l.NodeBN.Gamma, beta: l.NodeBN.Beta},
			edgeBN: batchNormOp{gamma: l.EdgeBN.Gamma, beta: l.EdgeBN.Beta},
		}
	}
	for _, l := range w.MLP.Hidden {
		m.mlpHidden = append(m.mlpHidden, newLinearOp(l.Weight, l.Bias))
	}
	return m, nil
}

// Config returns the architecture.
func (m *Model) Config() ModelConfig { return m.cfg }

// Forward runs one mini-batch. Every cluster must have the same size.
// Batch normalisation uses the statistics of this batch, so results depend on
// which clusters share a batch.
func (m *Model) Forward(batch []*sampling.Cluster) ([]Logits, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	k := batch[0].Size()
	if k < 2 {
		return nil, errors.Newf(errors.CodeInferenceFailed, "cluster too small: %d nodes", k)
	}
	for i, c := range batch {
		if c.Size() != k || len(c.Coords) != 2*k || len(c.EdgeValues) != k*k {
			return nil, errors.Newf(errors.CodeInferenceFailed, "cluster %d has inconsistent size, want %d nodes", i, k)
		}
	}

	b := len(batch)
	h := m.cfg.HiddenDim

	x := m.embedNodes(batch, k)
	e := m.embedEdges(batch, k, h)

	for i := range m.layers {
		m.layer(&m.layers[i], x, e, b, k, h)
	}

	for _, l := range m.mlpHidden {
		e = l.apply(e)
		relu(e)
	}
	out := m.mlpOut.apply(e)

	c := m.cfg.VocEdgesOut
	per := k * k * c
	raw := out.RawMatrix().Data
	logits := make([]Logits, b)
	for i := range logits {
		data := make([]float64, per)
		copy(data, raw[i*per:(i+1)*per])
		logits[i] = Logits{K: k, C: c, Data: data}
	}
	return logits, nil
}

// Predict runs Forward and applies the softmax.
func (m *Model) Predict(batch []*sampling.Cluster) ([]Probabilities, error) {
	logits, err := m.Forward(batch)
	if err != nil {
		return nil, err
	}
	out := make([]Probabilities, len(logits))
	for i, l := range logits {
		out[i] = l.Softmax()
	}
	return out, nil
}

func (m *Model) embedNodes(batch []*sampling.Cluster, k int) *mat.Dense {
	coords := mat.NewDense(len(batch)*k, 2, nil)
	for bi, c := range batch {
		for i := 0; i < k; i++ {
			coords.Set(bi*k+i, 0, c.Coords[2*i])
			coords.Set(bi*k+i, 1, c.Coords[2*i+1])
		}
	}
	return m.coordEmb.apply(coords)
}

// embedEdges concatenates the value embedding and the tag embedding.
func (m *Model) embedEdges(batch []*sampling.Cluster, k, h int) *mat.Dense {
	half := h / 2
	tags := sampling.EdgeTags(k)
	wv := m.valueEmb.w.RawMatrix().Data // H/2×1
	e := mat.NewDense(len(batch)*k*k, h, nil)
	for bi, c := range batch {
		for ij, v := range c.EdgeValues {
			row := e.RawRowView(bi*k*k + ij)
			for d := 0; d < half; d++ {
				row[d] = wv[d] * v
			}
			copy(row[half:], m.tagEmb.RawRowView(tags[ij]))
		}
	}
	return e
}

// layer applies one residual gated layer to x (B·K×H) and e (B·K·K×H) in
// place.
func (m *Model) layer(l *layerOps, x, e *mat.Dense, b, k, h int) {
	// Edge update: U_e e_ij + V_e x_i + V_e x_j.
	eTmp := l.edgeU.apply(e)
	vx := l.edgeV.apply(x)
	for bi := 0; bi < b; bi++ {
		for i := 0; i < k; i++ {
			xi := vx.RawRowView(bi*k + i)
			for j := 0; j < k; j++ {
				xj := vx.RawRowView(bi*k + j)
				row := eTmp.RawRowView((bi*k+i)*k + j)
				for d := 0; d < h; d++ {
					row[d] += xi[d] + xj[d]
				}
			}
		}
	}

	// Node update with sigmoid edge gates.
	xTmp := l.nodeU.apply(x)
	vn := l.nodeV.apply(x)
	num := make([]float64, h)
	den := make([]float64, h)
	for bi := 0; bi < b; bi++ {
		for i := 0; i < k; i++ {
			for d := range num {
				num[d], den[d] = 0, 0
			}
			for j := 0; j < k; j++ {
				gate := eTmp.RawRowView((bi*k+i)*k + j)
				xj := vn.RawRowView(bi*k + j)
				for d := 0; d < h; d++ {
					g := sigmoid(gate[d])
					num[d] += g * xj[d]
					den[d] += g
				}
			}
			row := xTmp.RawRowView(bi*k + i)
			for d := 0; d < h; d++ {
				if m.cfg.Aggregation == AggregationMean {
					row[d] += num[d] / (gateEps + den[d])
				} else {
					row[d] += num[d]
				}
			}
		}
	}

	l.nodeBN.apply(xTmp)
	l.edgeBN.apply(eTmp)
	relu(xTmp)
	relu(eTmp)
	x.Add(x, xTmp)
	e.Add(e, eTmp)
}

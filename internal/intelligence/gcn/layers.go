package gcn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const bnEps = 1e-5

type linearOp struct {
	w *mat.Dense // out×in
	b []float64  // nil when the layer has no bias
}

func newLinearOp(m Matrix, bias []float64) linearOp {
	return linearOp{w: mat.NewDense(m.Rows, m.Cols, m.Data), b: bias}
}

func (l linearOp) outDim() int {
	r, _ := l.w.Dims()
	return r
}

// apply returns in·Wᵀ + b.
func (l linearOp) apply(in *mat.Dense) *mat.Dense {
	rows, _ := in.Dims()
	out := mat.NewDense(rows, l.outDim(), nil)
	out.Mul(in, l.w.T())
	if l.b != nil {
		for i := 0; i < rows; i++ {
			row := out.RawRowView(i)
			for j, b := range l.b {
				row[j] += b
			}
		}
	}
	return out
}

type batchNormOp struct {
	gamma, beta []float64
}

// apply normalises every column of m in place using the statistics of its
// rows (biased variance), then scales and shifts.
func (bn batchNormOp) apply(m *mat.Dense) {
	rows, cols := m.Dims()
	if rows == 0 {
		return
	}
	mean := make([]float64, cols)
	variance := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j, v := range m.RawRowView(i) {
			mean[j] += v
		}
	}
	n := float64(rows)
	for j := range mean {
		mean[j] /= n
	}
	for i := 0; i < rows; i++ {
		for j, v := range m.RawRowView(i) {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	scale := make([]float64, cols)
	for j := range variance {
		scale[j] = bn.gamma[j] / math.Sqrt(variance[j]/n+bnEps)
	}
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = (row[j]-mean[j])*scale[j] + bn.beta[j]
		}
	}
}

func relu(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, m)
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// softmax writes the softmax of logits into dst.
func softmax(dst, logits []float64) {
	maxV := math.Inf(-1)
	for _, v := range logits {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - maxV)
		dst[i] = e
		sum += e
	}
	for i := range dst {
		dst[i] /= sum
	}
}

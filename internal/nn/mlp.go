package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation is an elementwise layer nonlinearity
type Activation int

const (
	Identity Activation = iota
	ReLU
	LeakyReLU
	Tanh
)

const leakySlope = 0.2

// Layer is a dense layer computing act(X W + b) with W of shape in x out
type Layer struct {
	W   *mat.Dense
	B   *mat.Dense
	Act Activation
}

// MLP is a stack of dense layers. Forward passes do not mutate the network,
// so a trained MLP can be evaluated from several goroutines.
type MLP struct {
	Layers []*Layer
}

// Trace holds the intermediate values of one forward pass
type Trace struct {
	inputs []*mat.Dense
	pre    []*mat.Dense
	Output *mat.Dense
}

// NewMLP creates a network with the given layer sizes. Hidden layers use
// the hidden activation and the last layer uses the output activation.
// Weights use He initialisation drawn from rng.
func NewMLP(sizes []int, hidden, output Activation, rng *rand.Rand) *MLP {
	m := &MLP{Layers: make([]*Layer, len(sizes)-1)}
	for i := 0; i < len(sizes)-1; i++ {
		in, out := sizes[i], sizes[i+1]
		scale := math.Sqrt(2.0 / float64(in))
		data := make([]float64, in*out)
		for k := range data {
			data[k] = rng.NormFloat64() * scale
		}
		act := hidden
		if i == len(sizes)-2 {
			act = output
		}
		m.Layers[i] = &Layer{
			W:   mat.NewDense(in, out, data),
			B:   mat.NewDense(1, out, nil),
			Act: act,
		}
	}
	return m
}

// Params returns the trainable matrices as W0, B0, W1, B1, ...
func (m *MLP) Params() []*mat.Dense {
	params := make([]*mat.Dense, 0, 2*len(m.Layers))
	for _, l := range m.Layers {
		params = append(params, l.W, l.B)
	}
	return params
}

// Forward evaluates the network on a batch of rows
func (m *MLP) Forward(x *mat.Dense) (*mat.Dense, *Trace) {
	tr := &Trace{
		inputs: make([]*mat.Dense, len(m.Layers)),
		pre:    make([]*mat.Dense, len(m.Layers)),
	}
	a := x
	for i, l := range m.Layers {
		tr.inputs[i] = a

		z := &mat.Dense{}
		z.Mul(a, l.W)
		addRowVector(z, l.B)
		tr.pre[i] = z

		a = activate(z, l.Act)
	}
	tr.Output = a
	return a, tr
}

// Backprop propagates dOut, the loss gradient with respect to the network
// output, back through the trace. It returns the pre-activation delta of
// every layer and the gradient with respect to the input.
func (m *MLP) Backprop(tr *Trace, dOut *mat.Dense) ([]*mat.Dense, *mat.Dense) {
	deltas := make([]*mat.Dense, len(m.Layers))
	dA := dOut
	for i := len(m.Layers) - 1; i >= 0; i-- {
		l := m.Layers[i]
		dZ := activationGrad(tr.pre[i], dA, l.Act)
		deltas[i] = dZ

		dX := &mat.Dense{}
		dX.Mul(dZ, l.W.T())
		dA = dX
	}
	return deltas, dA
}

// Gradients sums the per-row parameter gradients. A non-nil rowScale
// multiplies row i's contribution by rowScale[i].
func (m *MLP) Gradients(tr *Trace, deltas []*mat.Dense, rowScale []float64) *Gradients {
	g := &Gradients{
		DW: make([]*mat.Dense, len(m.Layers)),
		DB: make([]*mat.Dense, len(m.Layers)),
	}
	for i := range m.Layers {
		dZ := deltas[i]
		if rowScale != nil {
			dZ = scaleRows(dZ, rowScale)
		}
		dW := &mat.Dense{}
		dW.Mul(tr.inputs[i].T(), dZ)
		g.DW[i] = dW
		g.DB[i] = columnSums(dZ)
	}
	return g
}

// PerExampleSqNorms returns the squared L2 norm of each row's own parameter
// gradient without materialising it: for a dense layer the per-row weight
// gradient is the outer product x_i dz_i, whose norm is |x_i| |dz_i|.
func (m *MLP) PerExampleSqNorms(tr *Trace, deltas []*mat.Dense) []float64 {
	rows, _ := deltas[0].Dims()
	norms := make([]float64, rows)
	for i := range m.Layers {
		x := tr.inputs[i]
		dZ := deltas[i]
		for r := 0; r < rows; r++ {
			xn := sqNorm(x.RawRowView(r))
			dn := sqNorm(dZ.RawRowView(r))
			norms[r] += (xn + 1) * dn
		}
	}
	return norms
}

func activate(z *mat.Dense, act Activation) *mat.Dense {
	if act == Identity {
		return z
	}
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	src, dst := z.RawMatrix().Data, out.RawMatrix().Data
	for k, v := range src {
		switch act {
		case ReLU:
			if v > 0 {
				dst[k] = v
			}
		case LeakyReLU:
			if v > 0 {
				dst[k] = v
			} else {
				dst[k] = leakySlope * v
			}
		case Tanh:
			dst[k] = math.Tanh(v)
		}
	}
	return out
}

func activationGrad(z, dA *mat.Dense, act Activation) *mat.Dense {
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	zs, gs, dst := z.RawMatrix().Data, denseData(dA), out.RawMatrix().Data
	for k, v := range zs {
		switch act {
		case Identity:
			dst[k] = gs[k]
		case ReLU:
			if v > 0 {
				dst[k] = gs[k]
			}
		case LeakyReLU:
			if v > 0 {
				dst[k] = gs[k]
			} else {
				dst[k] = leakySlope * gs[k]
			}
		case Tanh:
			t := math.Tanh(v)
			dst[k] = gs[k] * (1 - t*t)
		}
	}
	return out
}

// denseData returns the row-major data of m, copying when m is a view
func denseData(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	return mat.DenseCopyOf(m).RawMatrix().Data
}

func addRowVector(z, b *mat.Dense) {
	r, c := z.Dims()
	bias := b.RawRowView(0)
	for i := 0; i < r; i++ {
		row := z.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] += bias[j]
		}
	}
}

func columnSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	sums := out.RawRowView(0)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := 0; j < c; j++ {
			sums[j] += row[j]
		}
	}
	return out
}

func scaleRows(m *mat.Dense, scale []float64) *mat.Dense {
	out := mat.DenseCopyOf(m)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] *= scale[i]
		}
	}
	return out
}

func sqNorm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return s
}

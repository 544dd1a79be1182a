package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamOptimizer implements the Adam optimization algorithm
type AdamOptimizer struct {
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	t            int          // time step
	m            []*mat.Dense // first moment estimate
	v            []*mat.Dense // second moment estimate
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(learningRate, beta1, beta2 float64) *AdamOptimizer {
	return &AdamOptimizer{
		learningRate: learningRate,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      1e-8,
	}
}

// UpdateWeights applies one Adam step to weights in place
func (opt *AdamOptimizer) UpdateWeights(weights []*mat.Dense, gradients []*mat.Dense) {
	opt.t++

	if len(opt.m) != len(weights) {
		opt.initializeMoments(weights)
	}

	beta1Correction := 1 - math.Pow(opt.beta1, float64(opt.t))
	beta2Correction := 1 - math.Pow(opt.beta2, float64(opt.t))

	for i, weight := range weights {
		if i >= len(gradients) {
			continue
		}

		w := weight.RawMatrix().Data
		g := denseData(gradients[i])
		m := opt.m[i].RawMatrix().Data
		v := opt.v[i].RawMatrix().Data

		for k := range w {
			m[k] = opt.beta1*m[k] + (1-opt.beta1)*g[k]
			v[k] = opt.beta2*v[k] + (1-opt.beta2)*g[k]*g[k]
			mhat := m[k] / beta1Correction
			vhat := v[k] / beta2Correction
			w[k] -= opt.learningRate * mhat / (math.Sqrt(vhat) + opt.epsilon)
		}
	}
}

func (opt *AdamOptimizer) initializeMoments(weights []*mat.Dense) {
	opt.m = make([]*mat.Dense, len(weights))
	opt.v = make([]*mat.Dense, len(weights))

	for i, weight := range weights {
		rows, cols := weight.Dims()
		opt.m[i] = mat.NewDense(rows, cols, nil)
		opt.v[i] = mat.NewDense(rows, cols, nil)
	}
}

// GetTimeStep returns the current time step
func (opt *AdamOptimizer) GetTimeStep() int {
	return opt.t
}

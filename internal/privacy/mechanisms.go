package privacy

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GaussianMechanism adds zero-mean Gaussian noise with a fixed standard
// deviation. A zero sigma makes every method a no-op.
type GaussianMechanism struct {
	sigma      float64
	randSource *rand.Rand
}

// NewGaussianMechanism creates a Gaussian mechanism drawing from randSource
func NewGaussianMechanism(sigma float64, randSource *rand.Rand) *GaussianMechanism {
	if randSource == nil {
		randSource = rand.New(rand.NewSource(42))
	}
	return &GaussianMechanism{sigma: sigma, randSource: randSource}
}

// PerturbVector adds independent noise to every element in place
func (gm *GaussianMechanism) PerturbVector(values []float64) {
	if gm.sigma == 0 {
		return
	}
	for i := range values {
		values[i] += gm.randSource.NormFloat64() * gm.sigma
	}
}

// PerturbCounts returns noisy counts clamped at zero
func (gm *GaussianMechanism) PerturbCounts(counts []float64) []float64 {
	result := make([]float64, len(counts))
	copy(result, counts)
	gm.PerturbVector(result)
	for i, c := range result {
		if c < 0 {
			result[i] = 0
		}
	}
	return result
}

// PerturbSymmetric adds noise to the upper triangle (diagonal included) of a
// symmetric matrix and mirrors it, so the released matrix stays symmetric.
func (gm *GaussianMechanism) PerturbSymmetric(m *mat.SymDense) {
	if gm.sigma == 0 {
		return
	}
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.SetSym(i, j, m.At(i, j)+gm.randSource.NormFloat64()*gm.sigma)
		}
	}
}

// ClipFactor returns min(1, maxNorm/norm)
func ClipFactor(norm, maxNorm float64) float64 {
	if norm <= maxNorm || norm == 0 {
		return 1
	}
	return maxNorm / norm
}

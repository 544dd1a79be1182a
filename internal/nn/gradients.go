package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/internal/privacy"
)

// Gradients holds the parameter gradients of an MLP in layer order
type Gradients struct {
	DW []*mat.Dense
	DB []*mat.Dense
}

// Flatten returns the gradients in the order of MLP.Params
func (g *Gradients) Flatten() []*mat.Dense {
	out := make([]*mat.Dense, 0, 2*len(g.DW))
	for i := range g.DW {
		out = append(out, g.DW[i], g.DB[i])
	}
	return out
}

// Add accumulates other into g
func (g *Gradients) Add(other *Gradients) {
	for i := range g.DW {
		g.DW[i].Add(g.DW[i], other.DW[i])
		g.DB[i].Add(g.DB[i], other.DB[i])
	}
}

// Scale multiplies every gradient by f
func (g *Gradients) Scale(f float64) {
	for i := range g.DW {
		g.DW[i].Scale(f, g.DW[i])
		g.DB[i].Scale(f, g.DB[i])
	}
}

// AddNoise adds independent N(0, std^2) noise to every entry
func (g *Gradients) AddNoise(std float64, rng *rand.Rand) {
	if std == 0 {
		return
	}
	mech := privacy.NewGaussianMechanism(std, rng)
	for _, m := range g.Flatten() {
		mech.PerturbVector(m.RawMatrix().Data)
	}
}

// IsFinite reports whether every gradient entry is finite
func (g *Gradients) IsFinite() bool {
	for _, m := range g.Flatten() {
		for _, v := range m.RawMatrix().Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// ClipFactors turns per-example squared gradient norms into the scale
// factors min(1, maxNorm/norm).
func ClipFactors(sqNorms []float64, maxNorm float64) []float64 {
	factors := make([]float64, len(sqNorms))
	for i, s := range sqNorms {
		factors[i] = privacy.ClipFactor(math.Sqrt(s), maxNorm)
	}
	return factors
}

// SumSqNorms adds per-example squared norms elementwise
func SumSqNorms(parts ...[]float64) []float64 {
	if len(parts) == 0 {
		return nil
	}
	out := make([]float64, len(parts[0]))
	for _, p := range parts {
		for i, v := range p {
			out[i] += v
		}
	}
	return out
}

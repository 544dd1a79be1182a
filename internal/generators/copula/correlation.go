package copula

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tabsynth/pkg/errors"
)

// sampleCorrelation is the Pearson correlation of the columns of z. Constant
// columns, whose correlation is undefined, are treated as independent.
func sampleCorrelation(z *mat.Dense) *mat.SymDense {
	_, k := z.Dims()
	corr := &mat.SymDense{}
	stat.CorrelationMatrix(corr, z, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			if i == j {
				corr.SetSym(i, i, 1)
				continue
			}
			if math.IsNaN(corr.At(i, j)) {
				corr.SetSym(i, j, 0)
			}
		}
	}
	return corr
}

// secondMoment returns Z^T Z / n
func secondMoment(z *mat.Dense) *mat.SymDense {
	n, k := z.Dims()
	m := mat.NewSymDense(k, nil)
	m.SymOuterK(1/float64(n), z.T())
	return m
}

// normalizeToCorrelation rescales a (noisy) second-moment matrix to unit
// diagonal. Non-positive diagonal entries are floored first.
func normalizeToCorrelation(m *mat.SymDense, floor float64) *mat.SymDense {
	k := m.SymmetricDim()
	scale := make([]float64, k)
	for i := 0; i < k; i++ {
		scale[i] = 1 / math.Sqrt(math.Max(m.At(i, i), floor))
	}
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			if i == j {
				out.SetSym(i, i, 1)
				continue
			}
			out.SetSym(i, j, clamp(m.At(i, j)*scale[i]*scale[j], -1, 1))
		}
	}
	return out
}

// repairCorrelation projects a symmetric unit-diagonal matrix onto the
// positive definite cone by clipping eigenvalues at floor and restoring the
// unit diagonal. It reports whether any eigenvalue was clipped.
func repairCorrelation(a *mat.SymDense, floor float64) (*mat.SymDense, bool, error) {
	k := a.SymmetricDim()
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if math.IsNaN(a.At(i, j)) || math.IsInf(a.At(i, j), 0) {
				return nil, false, errors.NewInvalidModelStateError(errors.CodeNonPSDCorrelation,
					"correlation matrix contains non-finite entries")
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, false, errors.NewInvalidModelStateError(errors.CodeNonPSDCorrelation,
			"eigendecomposition of the correlation matrix failed")
	}
	values := eig.Values(nil)
	clipped := false
	for i, v := range values {
		if v < floor {
			values[i] = floor
			clipped = true
		}
	}
	if !clipped {
		return a, false, nil
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	scaled := mat.DenseCopyOf(&vecs)
	for j, v := range values {
		for i := 0; i < k; i++ {
			scaled.Set(i, j, scaled.At(i, j)*v)
		}
	}
	var rebuilt mat.Dense
	rebuilt.Mul(scaled, vecs.T())

	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			d := math.Sqrt(rebuilt.At(i, i) * rebuilt.At(j, j))
			v := (rebuilt.At(i, j) + rebuilt.At(j, i)) / 2 / d
			if i == j {
				v = 1
			}
			out.SetSym(i, j, v)
		}
	}
	return out, true, nil
}

// choleskyFactor returns the lower Cholesky factor of a correlation matrix
func choleskyFactor(a *mat.SymDense) (*mat.TriDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.NewInvalidModelStateError(errors.CodeNonPSDCorrelation,
			"correlation matrix is not positive definite")
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l, nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

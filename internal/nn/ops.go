package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// HStack concatenates matrices with equal row counts side by side. Nil
// parts are skipped.
func HStack(parts ...*mat.Dense) *mat.Dense {
	rows, cols := 0, 0
	for _, p := range parts {
		if p == nil {
			continue
		}
		r, c := p.Dims()
		rows = r
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, p := range parts {
		if p == nil {
			continue
		}
		_, c := p.Dims()
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(p)
		offset += c
	}
	return out
}

// Columns returns a copy of columns [from, to) of m
func Columns(m *mat.Dense, from, to int) *mat.Dense {
	r, _ := m.Dims()
	return mat.DenseCopyOf(m.Slice(0, r, from, to))
}

// StandardNormal returns an r x c matrix of independent N(0, 1) draws
func StandardNormal(r, c int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

// Softplus computes log(1 + e^x) without overflow
func Softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// Sigmoid computes 1 / (1 + e^-x) without overflow
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// SoftmaxInto writes softmax(logits / temperature) into dst
func SoftmaxInto(dst, logits []float64, temperature float64) {
	maxVal := math.Inf(-1)
	for _, v := range logits {
		if v/temperature > maxVal {
			maxVal = v / temperature
		}
	}
	sum := 0.0
	for k, v := range logits {
		dst[k] = math.Exp(v/temperature - maxVal)
		sum += dst[k]
	}
	for k := range dst {
		dst[k] /= sum
	}
}

// Gumbel draws a standard Gumbel variate
func Gumbel(rng *rand.Rand) float64 {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return -math.Log(-math.Log(u))
}

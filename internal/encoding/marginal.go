package encoding

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// NumericMarginal is a monotone piecewise-linear CDF through a set of knots.
// The empirical variant places a knot at the midpoint rank of every distinct
// value, so tied values map to the centre of their rank range.
type NumericMarginal struct {
	xs []float64
	us []float64
}

// NewEmpiricalMarginal builds the empirical CDF of values
func NewEmpiricalMarginal(values []float64) *NumericMarginal {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := float64(len(sorted))

	m := &NumericMarginal{}
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		count := float64(j - i)
		m.xs = append(m.xs, sorted[i])
		m.us = append(m.us, (float64(i)+count/2)/n)
		i = j
	}
	return m
}

// NewHistogramMarginal builds a CDF from (possibly noisy) bin counts over
// [lo, hi]. Negative counts are treated as empty bins; if nothing remains
// the marginal is uniform.
func NewHistogramMarginal(lo, hi float64, counts []float64) *NumericMarginal {
	bins := len(counts)
	clean := make([]float64, bins)
	for i, c := range counts {
		if c > 0 {
			clean[i] = c
		}
	}
	total := floats.Sum(clean)
	if total <= 0 {
		for i := range clean {
			clean[i] = 1
		}
		total = float64(bins)
	}

	if hi <= lo {
		return &NumericMarginal{xs: []float64{lo}, us: []float64{0.5}}
	}

	m := &NumericMarginal{
		xs: make([]float64, bins+1),
		us: make([]float64, bins+1),
	}
	width := (hi - lo) / float64(bins)
	cum := 0.0
	for b := 0; b <= bins; b++ {
		m.xs[b] = lo + float64(b)*width
		m.us[b] = cum / total
		if b < bins {
			cum += clean[b]
		}
	}
	m.xs[bins] = hi
	m.us[bins] = 1
	return m
}

// HistogramCounts bins values into equal-width bins over [lo, hi]
func HistogramCounts(values []float64, lo, hi float64, bins int) []float64 {
	counts := make([]float64, bins)
	if hi <= lo {
		counts[0] = float64(len(values))
		return counts
	}
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		b := int((v - lo) / width)
		if b < 0 {
			b = 0
		}
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}
	return counts
}

// CDF maps x to a probability, clamped to the first and last knots
func (m *NumericMarginal) CDF(x float64) float64 {
	last := len(m.xs) - 1
	if x <= m.xs[0] {
		return m.us[0]
	}
	if x >= m.xs[last] {
		return m.us[last]
	}
	j := sort.SearchFloat64s(m.xs, x)
	if m.xs[j] == x {
		return m.us[j]
	}
	t := (x - m.xs[j-1]) / (m.xs[j] - m.xs[j-1])
	return m.us[j-1] + t*(m.us[j]-m.us[j-1])
}

// Quantile is the inverse of CDF on [us[0], us[last]], clamped outside
func (m *NumericMarginal) Quantile(u float64) float64 {
	last := len(m.us) - 1
	if u <= m.us[0] {
		return m.xs[0]
	}
	if u >= m.us[last] {
		return m.xs[last]
	}
	j := sort.SearchFloat64s(m.us, u)
	if m.us[j] == u || m.us[j] == m.us[j-1] {
		return m.xs[j]
	}
	t := (u - m.us[j-1]) / (m.us[j] - m.us[j-1])
	return m.xs[j-1] + t*(m.xs[j]-m.xs[j-1])
}

// CategoricalMarginal maps categories to disjoint sub-intervals of [0, 1],
// ordered by descending probability, with widths equal to the probabilities.
type CategoricalMarginal struct {
	order  []int
	lower  []float64
	upper  []float64
	rankOf []int
}

// NewCategoricalMarginal builds the interval layout for probabilities given
// in domain order. Non-positive entries get an empty interval.
func NewCategoricalMarginal(probabilities []float64) *CategoricalMarginal {
	k := len(probabilities)
	p := make([]float64, k)
	for i, v := range probabilities {
		if v > 0 {
			p[i] = v
		}
	}
	total := floats.Sum(p)
	if total <= 0 {
		for i := range p {
			p[i] = 1
		}
		total = float64(k)
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] > p[order[b]] })

	m := &CategoricalMarginal{
		order:  order,
		lower:  make([]float64, k),
		upper:  make([]float64, k),
		rankOf: make([]int, k),
	}
	cum := 0.0
	for r, idx := range order {
		m.rankOf[idx] = r
		m.lower[r] = cum
		cum += p[idx] / total
		m.upper[r] = cum
	}
	m.upper[k-1] = 1
	return m
}

// Forward maps a category index to the midpoint of its interval
func (m *CategoricalMarginal) Forward(index int) float64 {
	r := m.rankOf[index]
	return (m.lower[r] + m.upper[r]) / 2
}

// Inverse maps u to the category whose interval contains it
func (m *CategoricalMarginal) Inverse(u float64) int {
	r := sort.Search(len(m.upper), func(i int) bool { return u < m.upper[i] })
	if r >= len(m.order) {
		r = len(m.order) - 1
	}
	return m.order[r]
}

// Probabilities returns the normalised probabilities in domain order
func (m *CategoricalMarginal) Probabilities() []float64 {
	p := make([]float64, len(m.order))
	for idx, r := range m.rankOf {
		p[idx] = m.upper[r] - m.lower[r]
	}
	return p
}

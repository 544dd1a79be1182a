package evaluation

import (
	"math"
	"sort"

	"github.com/inferloop/tabsynth/pkg/models"
)

// twoSampleKS returns the two-sample Kolmogorov-Smirnov statistic, the
// largest gap between the empirical CDFs of a and b.
func twoSampleKS(a, b []float64) float64 {
	sortedA := append([]float64(nil), a...)
	sortedB := append([]float64(nil), b...)
	sort.Float64s(sortedA)
	sort.Float64s(sortedB)

	n1, n2 := len(sortedA), len(sortedB)
	var maxDiff float64
	i1, i2 := 0, 0
	for i1 < n1 || i2 < n2 {
		var x float64
		switch {
		case i1 >= n1:
			x = sortedB[i2]
		case i2 >= n2:
			x = sortedA[i1]
		default:
			x = math.Min(sortedA[i1], sortedB[i2])
		}

		for i1 < n1 && sortedA[i1] <= x {
			i1++
		}
		for i2 < n2 && sortedB[i2] <= x {
			i2++
		}

		diff := math.Abs(float64(i1)/float64(n1) - float64(i2)/float64(n2))
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	return maxDiff
}

// totalVariation returns half the L1 distance between the category
// frequency tables of a and b.
func totalVariation(a, b []string) float64 {
	freqA := frequencies(a)
	freqB := frequencies(b)

	keys := make([]string, 0, len(freqA)+len(freqB))
	for k := range freqA {
		keys = append(keys, k)
	}
	for k := range freqB {
		if _, ok := freqA[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	sum := 0.0
	for _, k := range keys {
		sum += math.Abs(freqA[k] - freqB[k])
	}
	return sum / 2
}

func frequencies(keys []string) map[string]float64 {
	out := make(map[string]float64)
	if len(keys) == 0 {
		return out
	}
	w := 1 / float64(len(keys))
	for _, k := range keys {
		out[k] += w
	}
	return out
}

func keysOf(col *models.Column) []string {
	if col.Type == models.ColumnTypeString {
		return col.Strings
	}
	out := make([]string, col.Len())
	for i := range out {
		out[i] = col.Key(i)
	}
	return out
}

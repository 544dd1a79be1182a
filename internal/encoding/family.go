package encoding

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/tabsynth/pkg/models"
)

type cdfFunc func(x float64) float64

type familyCandidate struct {
	family models.DistributionFamily
	cdf    cdfFunc
}

// chooseFamily returns the parametric family with the smallest one-sample
// Kolmogorov-Smirnov distance to the data. Lognormal is only considered for
// strictly positive data and exponential for non-negative data.
func chooseFamily(values []float64) models.DistributionFamily {
	if len(values) < 2 {
		return models.FamilyNormal
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		return models.FamilyNormal
	}

	mean, std := stat.MeanStdDev(sorted, nil)
	candidates := []familyCandidate{
		{models.FamilyNormal, distuv.Normal{Mu: mean, Sigma: std}.CDF},
		{models.FamilyUniform, distuv.Uniform{Min: lo, Max: hi}.CDF},
	}

	if lo > 0 {
		logs := make([]float64, len(sorted))
		for i, v := range sorted {
			logs[i] = math.Log(v)
		}
		lmean, lstd := stat.MeanStdDev(logs, nil)
		if lstd > 0 {
			candidates = append(candidates, familyCandidate{models.FamilyLogNormal, distuv.LogNormal{Mu: lmean, Sigma: lstd}.CDF})
		}
	}
	if lo >= 0 && mean > 0 {
		candidates = append(candidates, familyCandidate{models.FamilyExponential, distuv.Exponential{Rate: 1 / mean}.CDF})
	}

	best := models.FamilyNormal
	bestD := math.Inf(1)
	for _, c := range candidates {
		d := ksDistance(sorted, c.cdf)
		if d < bestD {
			best, bestD = c.family, d
		}
	}
	return best
}

// ksDistance is the one-sample KS statistic of sorted data against cdf
func ksDistance(sorted []float64, cdf cdfFunc) float64 {
	n := float64(len(sorted))
	maxD := 0.0
	for i, x := range sorted {
		f := cdf(x)
		if d := f - float64(i)/n; d > maxD {
			maxD = d
		}
		if d := float64(i+1)/n - f; d > maxD {
			maxD = d
		}
	}
	return maxD
}

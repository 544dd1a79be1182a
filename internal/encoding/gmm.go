package encoding

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mode is one component of a one-dimensional Gaussian mixture
type Mode struct {
	Weight float64 `json:"weight"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
}

// ModeConfig controls the per-column mixture fit
type ModeConfig struct {
	MaxModes        int     `json:"max_modes" mapstructure:"max_modes"`
	MaxIterations   int     `json:"max_iterations" mapstructure:"max_iterations"`
	Tolerance       float64 `json:"tolerance" mapstructure:"tolerance"`
	WeightThreshold float64 `json:"weight_threshold" mapstructure:"weight_threshold"`
	// HistogramBins is the number of noisy bins a private fit releases per
	// numeric column.
	HistogramBins int `json:"histogram_bins" mapstructure:"histogram_bins"`
}

const logSqrt2Pi = 0.91893853320467274178

// fitModes fits a Gaussian mixture to values by expectation-maximisation.
// Means start at evenly spaced quantiles. Components whose weight falls
// under the threshold are pruned and the remaining weights renormalised.
func fitModes(values []float64, config *ModeConfig) []Mode {
	n := len(values)
	if n == 0 {
		return []Mode{{Weight: 1, Mean: 0, Std: 1}}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[n-1]
	spread := hi - lo

	floor := spread * 1e-3
	if floor == 0 {
		floor = math.Max(math.Abs(lo)*1e-3, 1e-6)
	}
	if spread == 0 {
		return []Mode{{Weight: 1, Mean: lo, Std: floor}}
	}
	varFloor := floor * floor

	k := config.MaxModes
	if distinct := countDistinct(sorted); distinct < k {
		k = distinct
	}
	if k < 1 {
		k = 1
	}

	_, totalStd := stat.MeanStdDev(sorted, nil)
	weights := make([]float64, k)
	means := make([]float64, k)
	vars := make([]float64, k)
	for j := 0; j < k; j++ {
		weights[j] = 1 / float64(k)
		means[j] = stat.Quantile((float64(j)+0.5)/float64(k), stat.Empirical, sorted, nil)
		vars[j] = math.Max(totalStd*totalStd/float64(k), varFloor)
	}

	resp := make([]float64, n*k)
	logp := make([]float64, k)
	prevLL := math.Inf(-1)
	for iter := 0; iter < config.MaxIterations; iter++ {
		ll := 0.0
		for i, x := range values {
			for j := 0; j < k; j++ {
				logp[j] = math.Log(weights[j]) + logNormalPDF(x, means[j], vars[j])
			}
			norm := logSumExp(logp)
			ll += norm
			for j := 0; j < k; j++ {
				resp[i*k+j] = math.Exp(logp[j] - norm)
			}
		}

		for j := 0; j < k; j++ {
			var nk, sum float64
			for i, x := range values {
				r := resp[i*k+j]
				nk += r
				sum += r * x
			}
			if nk < 1e-12 {
				weights[j] = 1e-12
				continue
			}
			mu := sum / nk
			var sq float64
			for i, x := range values {
				d := x - mu
				sq += resp[i*k+j] * d * d
			}
			weights[j] = nk / float64(n)
			means[j] = mu
			vars[j] = math.Max(sq/nk, varFloor)
		}

		ll /= float64(n)
		if math.Abs(ll-prevLL) < config.Tolerance {
			break
		}
		prevLL = ll
	}

	modes := make([]Mode, 0, k)
	for j := 0; j < k; j++ {
		if weights[j] < config.WeightThreshold {
			continue
		}
		modes = append(modes, Mode{Weight: weights[j], Mean: means[j], Std: math.Sqrt(vars[j])})
	}
	if len(modes) == 0 {
		mean, std := stat.MeanStdDev(values, nil)
		return []Mode{{Weight: 1, Mean: mean, Std: math.Max(std, floor)}}
	}

	total := 0.0
	for _, m := range modes {
		total += m.Weight
	}
	for i := range modes {
		modes[i].Weight /= total
	}
	sort.SliceStable(modes, func(a, b int) bool { return modes[a].Mean < modes[b].Mean })
	return modes
}

// assignMode returns the component with the largest posterior for x
func assignMode(x float64, modes []Mode) int {
	best, bestLP := 0, math.Inf(-1)
	for j, m := range modes {
		lp := math.Log(m.Weight) + logNormalPDF(x, m.Mean, m.Std*m.Std)
		if lp > bestLP {
			best, bestLP = j, lp
		}
	}
	return best
}

func logNormalPDF(x, mean, variance float64) float64 {
	d := x - mean
	return -0.5*d*d/variance - 0.5*math.Log(variance) - logSqrt2Pi
}

func logSumExp(values []float64) float64 {
	maxVal := floats.Max(values)
	if math.IsInf(maxVal, 0) {
		return maxVal
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

func countDistinct(sorted []float64) int {
	if len(sorted) == 0 {
		return 0
	}
	count := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			count++
		}
	}
	return count
}

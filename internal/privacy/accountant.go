package privacy

import (
	"fmt"
	"math"

	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// defaultOrders are the integer Renyi orders tracked by the accountant
var defaultOrders = func() []int {
	orders := make([]int, 0, 65)
	for a := 2; a <= 64; a++ {
		orders = append(orders, a)
	}
	return append(orders, 128, 256)
}()

// Accountant tracks the privacy loss of the sampled Gaussian mechanism
// (Poisson subsampling rate q, noise multiplier z) under Renyi DP and converts
// it to an (epsilon, delta) guarantee.
type Accountant struct {
	orders []int
}

// NewAccountant creates an accountant over the default orders
func NewAccountant() *Accountant {
	return &Accountant{orders: defaultOrders}
}

// Epsilon returns the epsilon spent after steps applications of the sampled
// Gaussian mechanism, for the given delta.
func (a *Accountant) Epsilon(noiseMultiplier, samplingRate float64, steps int, delta float64) float64 {
	if steps <= 0 || samplingRate <= 0 {
		return 0
	}
	if noiseMultiplier <= 0 {
		return math.Inf(1)
	}

	best := math.Inf(1)
	for _, order := range a.orders {
		rdp := float64(steps) * rdpSampledGaussian(samplingRate, noiseMultiplier, order)
		eps := rdp + math.Log(1/delta)/float64(order-1)
		if eps < best {
			best = eps
		}
	}
	return best
}

// NoiseMultiplier finds the smallest noise multiplier (to bisection
// precision) whose accumulated loss over steps stays within the budget.
// A no-noise budget yields zero.
func (a *Accountant) NoiseMultiplier(budget *models.PrivacyBudget, samplingRate float64, steps int) (float64, error) {
	budget, err := NormalizeBudget(budget)
	if err != nil {
		return 0, err
	}
	if budget.NoNoise() {
		return 0, nil
	}
	if samplingRate <= 0 || samplingRate > 1 || steps <= 0 {
		return 0, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("invalid sampling rate %v or step count %d", samplingRate, steps))
	}

	hi := 1.0
	for a.Epsilon(hi, samplingRate, steps, budget.Delta) > budget.Epsilon {
		hi *= 2
		if hi > 1e6 {
			return 0, errors.NewInvalidBudgetError(
				fmt.Sprintf("epsilon %v is unreachable for %d steps", budget.Epsilon, steps))
		}
	}
	lo := 0.0
	for i := 0; i < 60; i++ {
		mid := (lo + hi) / 2
		if a.Epsilon(mid, samplingRate, steps, budget.Delta) > budget.Epsilon {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// rdpSampledGaussian is the Renyi divergence of integer order alpha for one
// step of the sampled Gaussian mechanism, computed in log space:
// log sum_k C(a,k) (1-q)^(a-k) q^k exp((k^2-k)/(2 z^2)) / (a-1)
func rdpSampledGaussian(q, z float64, alpha int) float64 {
	if q >= 1 {
		return float64(alpha) / (2 * z * z)
	}

	logQ := math.Log(q)
	log1mQ := math.Log1p(-q)
	terms := make([]float64, alpha+1)
	for k := 0; k <= alpha; k++ {
		kf := float64(k)
		terms[k] = logBinomial(alpha, k) + float64(alpha-k)*log1mQ + kf*logQ + (kf*kf-kf)/(2*z*z)
	}
	return logSumExp(terms) / float64(alpha-1)
}

func logBinomial(n, k int) float64 {
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}

func logSumExp(values []float64) float64 {
	maxVal := math.Inf(-1)
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if math.IsInf(maxVal, 0) {
		return maxVal
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

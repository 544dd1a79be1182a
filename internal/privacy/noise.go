package privacy

import (
	"fmt"
	"math"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// ResolveBudget builds the budget for an optional epsilon. A nil or infinite
// epsilon disables noise. A zero delta falls back to the default delta.
func ResolveBudget(epsilon *float64, delta float64) (*models.PrivacyBudget, error) {
	if epsilon == nil || math.IsInf(*epsilon, 1) {
		return nil, nil
	}
	return NormalizeBudget(models.NewPrivacyBudget(*epsilon, delta))
}

// NormalizeBudget validates budget and returns a copy whose zero delta is
// replaced by the default delta. A no-noise budget is returned as nil.
func NormalizeBudget(budget *models.PrivacyBudget) (*models.PrivacyBudget, error) {
	if err := ValidateBudget(budget); err != nil {
		return nil, err
	}
	if budget.NoNoise() {
		return nil, nil
	}
	delta := budget.Delta
	if delta == 0 {
		delta = constants.DefaultDelta
	}
	return models.NewPrivacyBudget(budget.Epsilon, delta), nil
}

// ValidateBudget checks epsilon > 0 and 0 <= delta < 1. A no-noise budget is valid.
func ValidateBudget(budget *models.PrivacyBudget) error {
	if budget.NoNoise() {
		return nil
	}
	if math.IsNaN(budget.Epsilon) || budget.Epsilon <= 0 {
		return errors.NewInvalidBudgetError(fmt.Sprintf("epsilon must be positive, got %v", budget.Epsilon)).
			WithContext("epsilon", budget.Epsilon)
	}
	if math.IsNaN(budget.Delta) || budget.Delta < 0 || budget.Delta >= 1 {
		return errors.NewInvalidBudgetError(fmt.Sprintf("delta must be in [0, 1), got %v", budget.Delta)).
			WithContext("delta", budget.Delta)
	}
	return nil
}

// GaussianSigma is the classic Gaussian mechanism calibration:
// sigma^2 = 2 ln(1.25/delta) S^2 / epsilon^2
func GaussianSigma(epsilon, delta, sensitivity float64) float64 {
	return sensitivity * math.Sqrt(2*math.Log(1.25/delta)) / epsilon
}

// NoiseScale returns the per-operation Gaussian noise standard deviation when
// the budget is split evenly over steps operations of the given L2
// sensitivity (basic composition). A no-noise budget yields zero.
func NoiseScale(budget *models.PrivacyBudget, sensitivity float64, steps int) (float64, error) {
	budget, err := NormalizeBudget(budget)
	if err != nil {
		return 0, err
	}
	if budget.NoNoise() {
		return 0, nil
	}
	if steps <= 0 {
		return 0, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("number of composed operations must be positive, got %d", steps))
	}
	if math.IsNaN(sensitivity) || sensitivity <= 0 {
		return 0, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("sensitivity must be positive, got %v", sensitivity))
	}

	share := budget.Split(steps)
	return GaussianSigma(share.Epsilon, share.Delta, sensitivity), nil
}

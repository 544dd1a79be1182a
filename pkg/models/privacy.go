package models

import "math"

// PrivacyBudget is an (epsilon, delta) differential privacy budget. A nil
// budget or an infinite epsilon disables noise injection.
type PrivacyBudget struct {
	Epsilon float64 `json:"epsilon"`
	Delta   float64 `json:"delta"`
}

// NewPrivacyBudget creates a budget
func NewPrivacyBudget(epsilon, delta float64) *PrivacyBudget {
	return &PrivacyBudget{Epsilon: epsilon, Delta: delta}
}

// NoNoise reports whether the budget imposes no noise
func (b *PrivacyBudget) NoNoise() bool {
	return b == nil || math.IsInf(b.Epsilon, 1)
}

// Split divides the budget evenly over n operations
func (b *PrivacyBudget) Split(n int) *PrivacyBudget {
	if b.NoNoise() || n <= 1 {
		return b
	}
	return &PrivacyBudget{Epsilon: b.Epsilon / float64(n), Delta: b.Delta / float64(n)}
}

// Fraction returns a budget holding the given share of this one
func (b *PrivacyBudget) Fraction(f float64) *PrivacyBudget {
	if b.NoNoise() {
		return b
	}
	return &PrivacyBudget{Epsilon: b.Epsilon * f, Delta: b.Delta * f}
}

package privacy

import (
	"fmt"
	"sync"
	"time"

	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// BudgetTransaction records one noisy release made during a fit
type BudgetTransaction struct {
	Timestamp   time.Time `json:"timestamp"`
	EpsilonUsed float64   `json:"epsilon_used"`
	DeltaUsed   float64   `json:"delta_used"`
	Purpose     string    `json:"purpose"`
	Mechanism   string    `json:"mechanism"`
}

// CompositionRule defines how privacy guarantees compose
type CompositionRule interface {
	Compose(transactions []BudgetTransaction) (float64, float64)
	GetName() string
}

// BasicComposition sums epsilons and deltas
type BasicComposition struct{}

func (bc *BasicComposition) Compose(transactions []BudgetTransaction) (float64, float64) {
	var totalEpsilon, totalDelta float64
	for _, tx := range transactions {
		totalEpsilon += tx.EpsilonUsed
		totalDelta += tx.DeltaUsed
	}
	return totalEpsilon, totalDelta
}

func (bc *BasicComposition) GetName() string {
	return "basic"
}

// NewBasicComposition creates a basic composition rule
func NewBasicComposition() CompositionRule {
	return &BasicComposition{}
}

// BudgetLedger records the releases a fit makes against its budget and
// refuses spends that would exceed it.
type BudgetLedger struct {
	mu           sync.Mutex
	budget       *models.PrivacyBudget
	rule         CompositionRule
	transactions []BudgetTransaction
}

// NewBudgetLedger creates a ledger for budget. A nil rule means basic composition.
func NewBudgetLedger(budget *models.PrivacyBudget, rule CompositionRule) *BudgetLedger {
	if rule == nil {
		rule = NewBasicComposition()
	}
	return &BudgetLedger{budget: budget, rule: rule}
}

// Spend records a release. Exceeding the budget is an InvalidBudgetError.
func (l *BudgetLedger) Spend(purpose, mechanism string, epsilon, delta float64) error {
	if l.budget.NoNoise() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	candidate := append(append([]BudgetTransaction(nil), l.transactions...), BudgetTransaction{
		Timestamp:   time.Now(),
		EpsilonUsed: epsilon,
		DeltaUsed:   delta,
		Purpose:     purpose,
		Mechanism:   mechanism,
	})

	eps, del := l.rule.Compose(candidate)
	const slack = 1e-9
	if eps > l.budget.Epsilon*(1+slack) || del > l.budget.Delta*(1+slack) {
		return errors.NewInvalidBudgetError(fmt.Sprintf(
			"spending (%.4g, %.4g) for %s exceeds budget (%.4g, %.4g)",
			epsilon, delta, purpose, l.budget.Epsilon, l.budget.Delta))
	}

	l.transactions = candidate
	return nil
}

// Spent returns the composed (epsilon, delta) spent so far
func (l *BudgetLedger) Spent() (float64, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rule.Compose(l.transactions)
}

package interfaces

import (
	"context"
	"math/rand"

	"github.com/inferloop/tabsynth/pkg/models"
)

// Generator fits a generative model to a table. Implementations hold only
// configuration; all fitted state lives in the returned Model.
type Generator interface {
	// GetType returns the generator type
	GetType() models.GeneratorType

	// Fit learns a model from the table under the given budget. A nil budget
	// means no noise. The model is returned only when fitting succeeds.
	Fit(ctx context.Context, table *models.Table, specs []models.ColumnSpec, budget *models.PrivacyBudget, rng *rand.Rand) (Model, error)
}

// Model is a fitted, read-only generative model. Sample may be called
// concurrently as long as each caller supplies its own random source.
type Model interface {
	// Specs returns the column specs the model was fitted against
	Specs() []models.ColumnSpec

	// Sample draws n synthetic rows
	Sample(ctx context.Context, n int, rng *rand.Rand) (*models.Table, error)
}

// TrainingObserver receives per-epoch statistics from iterative generators
type TrainingObserver interface {
	OnEpoch(ctx context.Context, stats models.EpochStats)
}

// TrainingObserverFunc adapts a function to TrainingObserver
type TrainingObserverFunc func(ctx context.Context, stats models.EpochStats)

// OnEpoch calls f
func (f TrainingObserverFunc) OnEpoch(ctx context.Context, stats models.EpochStats) {
	f(ctx, stats)
}

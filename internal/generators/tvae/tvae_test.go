package tvae

import (
	"context"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

func createTestTable(n int, seed int64) *models.Table {
	rng := rand.New(rand.NewSource(seed))
	tenure := make([]float64, n)
	spend := make([]float64, n)
	churned := make([]string, n)
	for i := 0; i < n; i++ {
		tenure[i] = float64(1 + rng.Intn(60))
		spend[i] = 20 + tenure[i]*1.5 + 5*rng.NormFloat64()
		if rng.Float64() < 0.2 {
			churned[i] = "yes"
		} else {
			churned[i] = "no"
		}
	}
	return models.NewTable(
		models.NewFloatColumn("tenure", tenure),
		models.NewFloatColumn("spend", spend),
		models.NewStringColumn("churned", churned),
	)
}

func smallConfig() *Config {
	config := DefaultConfig()
	config.Epochs = 15
	config.BatchSize = 50
	config.EmbeddingDim = 8
	config.CompressDims = []int{32}
	config.DecompressDims = []int{32}
	return config
}

func fit(t *testing.T, config *Config, table *models.Table, budget *models.PrivacyBudget, seed int64) *Model {
	t.Helper()
	specs, err := encoding.NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)

	model, err := NewGenerator(config, logrus.New()).Fit(context.Background(), table, specs, budget, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return model.(*Model)
}

func TestVariationalShapeAndDomain(t *testing.T) {
	table := createTestTable(200, 1)
	model := fit(t, smallConfig(), table, nil, 1)

	synthetic, err := model.Sample(context.Background(), 250, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, 250, synthetic.NumRows())
	assert.Equal(t, table.ColumnNames(), synthetic.ColumnNames())

	for _, spec := range model.Specs() {
		col, _ := synthetic.Column(spec.Name)
		if spec.IsCategorical() {
			for i := 0; i < col.Len(); i++ {
				assert.GreaterOrEqual(t, spec.Categorical.Index(col.Key(i)), 0)
			}
			continue
		}
		for _, v := range col.Floats {
			assert.GreaterOrEqual(t, v, spec.Numeric.Min)
			assert.LessOrEqual(t, v, spec.Numeric.Max)
		}
	}
}

func TestVariationalDeterminism(t *testing.T) {
	table := createTestTable(120, 3)

	a := fit(t, smallConfig(), table, nil, 7)
	b := fit(t, smallConfig(), table, nil, 7)

	sa, err := a.Sample(context.Background(), 80, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	sb, err := b.Sample(context.Background(), 80, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	assert.True(t, sa.Equal(sb))
}

func TestVariationalObserverAndAnnealing(t *testing.T) {
	table := createTestTable(100, 4)
	config := smallConfig()
	config.Epochs = 8
	config.KLAnnealEpochs = 4

	var epochs []models.EpochStats
	config.Observer = interfaces.TrainingObserverFunc(func(_ context.Context, stats models.EpochStats) {
		epochs = append(epochs, stats)
	})

	fit(t, config, table, models.NewPrivacyBudget(2, 1e-5), 5)
	require.Len(t, epochs, 8)

	assert.Equal(t, 0.0, epochs[0].Losses["kl_weight"])
	assert.Equal(t, 0.5, epochs[2].Losses["kl_weight"])
	assert.Equal(t, 1.0, epochs[7].Losses["kl_weight"])
	for _, e := range epochs {
		assert.Equal(t, models.GeneratorTypeVariational, e.Generator)
		assert.Greater(t, e.NoiseMultiplier, 0.0)
		assert.Contains(t, e.Losses, "reconstruction")
		assert.Contains(t, e.Losses, "kl")
	}
}

func TestVariationalReconstructionImproves(t *testing.T) {
	table := createTestTable(200, 6)
	config := smallConfig()
	config.Epochs = 40

	var losses []float64
	config.Observer = interfaces.TrainingObserverFunc(func(_ context.Context, stats models.EpochStats) {
		losses = append(losses, stats.Losses["reconstruction"])
	})
	fit(t, config, table, nil, 6)

	require.Len(t, losses, 40)
	assert.Less(t, losses[39], losses[0])
}

func TestVariationalConfigValidation(t *testing.T) {
	table := createTestTable(50, 11)
	specs, err := encoding.NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"epochs", func(c *Config) { c.Epochs = 0 }},
		{"batch", func(c *Config) { c.BatchSize = -1 }},
		{"sigma", func(c *Config) { c.Sigma = 0 }},
		{"loss factor", func(c *Config) { c.LossFactor = 0 }},
		{"statistics share", func(c *Config) { c.StatisticsBudget = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := smallConfig()
			tt.mutate(config)
			_, err := NewGenerator(config, nil).Fit(context.Background(), table, specs, nil, rand.New(rand.NewSource(1)))
			assert.True(t, errors.IsConfigurationError(err))
		})
	}

	_, err = NewGenerator(smallConfig(), nil).Fit(context.Background(), table, specs, models.NewPrivacyBudget(-1, 1e-5), rand.New(rand.NewSource(1)))
	assert.True(t, errors.IsInvalidBudget(err))
}

func TestVariationalSampleEdgeCases(t *testing.T) {
	config := smallConfig()
	config.Epochs = 2
	model := fit(t, config, createTestTable(60, 12), nil, 12)

	empty, err := model.Sample(context.Background(), 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumRows())
	assert.Equal(t, 3, empty.NumColumns())

	_, err = model.Sample(context.Background(), -1, rand.New(rand.NewSource(1)))
	assert.True(t, errors.IsConfigurationError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = model.Sample(ctx, 10, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconstructionGradient(t *testing.T) {
	tr := &trainer{
		config: &Config{LossFactor: 2, Sigma: 0.1},
		segments: []encoding.Segment{
			{Offset: 0, Width: 1, Activation: encoding.ActivationTanh},
			{Offset: 1, Width: 3, Activation: encoding.ActivationSoftmax},
		},
	}
	x := mat.NewDense(1, 4, []float64{0.3, 0, 1, 0})
	out := []float64{0.1, 0.4, -0.2, 0.9}

	grad, _ := tr.reconstruction(x, mat.NewDense(1, 4, append([]float64(nil), out...)))

	const h = 1e-6
	for k := range out {
		plus := append([]float64(nil), out...)
		minus := append([]float64(nil), out...)
		plus[k] += h
		minus[k] -= h
		_, lp := tr.reconstruction(x, mat.NewDense(1, 4, plus))
		_, lm := tr.reconstruction(x, mat.NewDense(1, 4, minus))
		assert.InDelta(t, (lp-lm)/(2*h), grad.At(0, k), 1e-4)
	}
}

func TestVariationalDivergenceIsReported(t *testing.T) {
	table := createTestTable(100, 13)
	specs, err := encoding.NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)

	config := smallConfig()
	config.LearningRate = 1e200

	_, err = NewGenerator(config, logrus.New()).Fit(context.Background(), table, specs, nil, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidModelState(err))
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeTrainingDiverged, appErr.Code)
}

func TestVariationalZeroDeltaUsesDefault(t *testing.T) {
	table := createTestTable(100, 14)
	config := smallConfig()
	config.Epochs = 2

	zero := fit(t, config, table, models.NewPrivacyBudget(1, 0), 3)
	defaulted := fit(t, config, table, models.NewPrivacyBudget(1, 1e-5), 3)

	sz, err := zero.Sample(context.Background(), 50, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	sd, err := defaulted.Sample(context.Background(), 50, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	assert.True(t, sz.Equal(sd))
}

func TestVariationalPrivateFitReleasesNoExactStatistics(t *testing.T) {
	config := smallConfig()
	config.Epochs = 1
	budget := models.NewPrivacyBudget(1, 1e-5)

	a := fit(t, config, createTestTable(150, 15), budget, 16)
	b := fit(t, config, createTestTable(150, 17), budget, 16)

	// tenure and spend keep one scalar plus every mode; churned is one-hot
	want := 2*(1+constants.DefaultMaxModes) + 2
	assert.Equal(t, want, a.transformer.Dim())
	assert.Equal(t, want, b.transformer.Dim())

	for _, spec := range a.Specs() {
		if spec.IsCategorical() {
			assert.Nil(t, spec.Categorical.Frequencies)
			assert.Equal(t, []string{"no", "yes"}, spec.Categorical.Categories)
		}
	}
}

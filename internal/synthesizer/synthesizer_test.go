package synthesizer

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tabsynth/internal/generators"
	"github.com/inferloop/tabsynth/internal/generators/ctgan"
	"github.com/inferloop/tabsynth/internal/generators/tvae"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

func epsilon(v float64) *float64 {
	return &v
}

func createPeopleTable(n int, seed int64) *models.Table {
	rng := rand.New(rand.NewSource(seed))
	age := make([]float64, n)
	gender := make([]string, n)
	for i := 0; i < n; i++ {
		age[i] = float64(18 + rng.Intn(58))
		if rng.Float64() < 0.55 {
			gender[i] = "M"
		} else {
			gender[i] = "F"
		}
	}
	return models.NewTable(
		models.NewFloatColumn("age", age),
		models.NewStringColumn("gender", gender),
	)
}

func createDependentTable(n int, seed int64) *models.Table {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	y := make([]float64, n)
	c := make([]string, n)
	for i := 0; i < n; i++ {
		x[i] = rng.NormFloat64()
		y[i] = x[i] + 0.1*rng.NormFloat64()
		c[i] = []string{"red", "green", "blue"}[rng.Intn(3)]
	}
	return models.NewTable(
		models.NewFloatColumn("x", x),
		models.NewFloatColumn("y", y),
		models.NewStringColumn("c", c),
	)
}

func tinyNetworkOptions() *generators.Options {
	adversarial := ctgan.DefaultConfig()
	adversarial.Epochs = 3
	adversarial.BatchSize = 40
	adversarial.EmbeddingDim = 4
	adversarial.GeneratorDims = []int{16}
	adversarial.DiscriminatorDims = []int{16}

	variational := tvae.DefaultConfig()
	variational.Epochs = 3
	variational.BatchSize = 40
	variational.EmbeddingDim = 4
	variational.CompressDims = []int{16}
	variational.DecompressDims = []int{16}

	return &generators.Options{Adversarial: adversarial, Variational: variational}
}

// bootstrapMeanInterval returns the 95% percentile interval of the mean of
// size-row resamples of values
func bootstrapMeanInterval(values []float64, size, resamples int, rng *rand.Rand) (float64, float64) {
	means := make([]float64, resamples)
	buf := make([]float64, size)
	for r := range means {
		for i := range buf {
			buf[i] = values[rng.Intn(len(values))]
		}
		means[r] = stat.Mean(buf, nil)
	}
	sort.Float64s(means)
	return stat.Quantile(0.025, stat.Empirical, means, nil), stat.Quantile(0.975, stat.Empirical, means, nil)
}

func frequency(col *models.Column, key string) float64 {
	count := 0
	for i := 0; i < col.Len(); i++ {
		if col.Key(i) == key {
			count++
		}
	}
	return float64(count) / float64(col.Len())
}

func TestCopulaScenarioMatchesAgeAndGender(t *testing.T) {
	const seed = 5
	real := createPeopleTable(1000, seed)
	s, err := Create(context.Background(), real, &Config{Generator: "copula", Seed: seed}, logrus.New())
	require.NoError(t, err)

	synthetic, err := s.Generate(context.Background(), 500)
	require.NoError(t, err)
	require.Equal(t, 500, synthetic.NumRows())

	realAge, _ := real.Column("age")
	synthAge, _ := synthetic.Column("age")
	lo, hi := bootstrapMeanInterval(realAge.Floats, 500, 2000, rand.New(rand.NewSource(seed)))
	mean := stat.Mean(synthAge.Floats, nil)
	assert.GreaterOrEqual(t, mean, lo)
	assert.LessOrEqual(t, mean, hi)

	realGender, _ := real.Column("gender")
	synthGender, _ := synthetic.Column("gender")
	assert.InDelta(t, frequency(realGender, "M"), frequency(synthGender, "M"), 0.05)
}

func TestDeterminism(t *testing.T) {
	real := createDependentTable(200, 11)
	for _, name := range []string{"copula", "ctgan", "tvae"} {
		t.Run(name, func(t *testing.T) {
			config := &Config{Generator: name, Seed: 5, Epsilon: epsilon(1), Generators: tinyNetworkOptions()}

			a, err := Create(context.Background(), real, config, nil)
			require.NoError(t, err)
			b, err := Create(context.Background(), real, config, nil)
			require.NoError(t, err)

			sa, err := a.Generate(context.Background(), 100)
			require.NoError(t, err)
			sb, err := b.Generate(context.Background(), 100)
			require.NoError(t, err)
			assert.True(t, sa.Equal(sb))
			assert.NotEqual(t, a.RunID(), b.RunID())
		})
	}
}

func TestShapeContract(t *testing.T) {
	real := createDependentTable(150, 12)
	for _, name := range []string{"copula", "adversarial", "variational"} {
		t.Run(name, func(t *testing.T) {
			s, err := Create(context.Background(), real, &Config{Generator: name, Generators: tinyNetworkOptions()}, nil)
			require.NoError(t, err)

			for _, n := range []int{1, 37, 300} {
				synthetic, err := s.Generate(context.Background(), n)
				require.NoError(t, err)
				assert.Equal(t, n, synthetic.NumRows())
				assert.Equal(t, real.ColumnNames(), synthetic.ColumnNames())

				c, _ := synthetic.Column("c")
				for _, v := range c.Strings {
					assert.Contains(t, []string{"red", "green", "blue"}, v)
				}
			}
		})
	}
}

func TestGenerateZeroRows(t *testing.T) {
	real := createPeopleTable(100, 13)
	s, err := Create(context.Background(), real, nil, nil)
	require.NoError(t, err)

	empty, err := s.Generate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumRows())
	assert.Equal(t, []string{"age", "gender"}, empty.ColumnNames())

	_, err = s.Generate(context.Background(), -1)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestNotFittedBeforeFit(t *testing.T) {
	real := createPeopleTable(100, 14)
	s, err := New(real, nil, nil)
	require.NoError(t, err)
	assert.False(t, s.Fitted())

	_, err = s.Generate(context.Background(), 10)
	assert.True(t, errors.IsNotFitted(err))

	_, err = s.EvaluateQuality(real)
	assert.True(t, errors.IsNotFitted(err))

	_, err = s.EvaluatePrivacy(context.Background(), real)
	assert.True(t, errors.IsNotFitted(err))

	require.NoError(t, s.Fit(context.Background()))
	assert.True(t, s.Fitted())
	_, err = s.Generate(context.Background(), 10)
	assert.NoError(t, err)
}

func TestConfigurationErrorsAreEager(t *testing.T) {
	real := createPeopleTable(50, 15)

	tests := []struct {
		name   string
		config *Config
		code   string
	}{
		{"unknown generator", &Config{Generator: "diffusion"}, errors.CodeInvalidGenerator},
		{"zero epsilon", &Config{Epsilon: epsilon(0)}, errors.CodeInvalidEpsilon},
		{"negative epsilon", &Config{Epsilon: epsilon(-2)}, errors.CodeInvalidEpsilon},
		{"bad delta", &Config{Epsilon: epsilon(1), Delta: 1.5}, errors.CodeInvalidEpsilon},
		{"conflicting overrides", &Config{CategoricalColumns: []string{"age"}, NumericalColumns: []string{"age"}}, errors.CodeConflictingOverrides},
		{"unknown override", &Config{CategoricalColumns: []string{"income"}}, errors.CodeUnknownColumn},
		{"string forced numerical", &Config{NumericalColumns: []string{"gender"}}, errors.CodeInvalidColumnType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(real, tt.config, nil)
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err))

			appErr, ok := errors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}

	_, err := New(real, &Config{Epsilon: epsilon(-1)}, nil)
	assert.True(t, errors.IsInvalidBudget(err))
}

func TestAccessors(t *testing.T) {
	real := createPeopleTable(100, 16)
	s, err := New(real, &Config{Generator: "tvae", Epsilon: epsilon(2), CategoricalColumns: []string{"age"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.GeneratorTypeVariational, s.Generator())
	assert.Equal(t, []string{"age", "gender"}, s.CategoricalColumns())
	assert.Empty(t, s.NumericalColumns())
	assert.Len(t, s.Specs(), 2)
	require.NotNil(t, s.Budget())
	assert.Equal(t, 2.0, s.Budget().Epsilon)
	assert.Equal(t, 1e-5, s.Budget().Delta)
	assert.NotEmpty(t, s.RunID())

	run := s.Run()
	assert.Equal(t, s.RunID(), run.ID)
	assert.Equal(t, 100, run.SourceRows)
	require.NotNil(t, run.Epsilon)
	assert.Equal(t, 2.0, *run.Epsilon)

	noNoise, err := New(real, &Config{Epsilon: epsilon(math.Inf(1))}, nil)
	require.NoError(t, err)
	assert.Nil(t, noNoise.Budget())
	assert.Nil(t, noNoise.Run().Epsilon)
}

func TestPrivacyMonotonicity(t *testing.T) {
	real := createDependentTable(400, 17)
	epsilons := []*float64{nil, epsilon(5), epsilon(1), epsilon(0.1)}

	for _, name := range []string{"copula", "ctgan", "tvae"} {
		t.Run(name, func(t *testing.T) {
			dcr := make([]float64, len(epsilons))
			quality := make([]float64, len(epsilons))
			for i, eps := range epsilons {
				config := &Config{Generator: name, Seed: 1, Epsilon: eps, Generators: tinyNetworkOptions()}
				s, err := Create(context.Background(), real, config, nil)
				require.NoError(t, err)

				synthetic, err := s.Generate(context.Background(), 400)
				require.NoError(t, err)

				privacyReport, err := s.EvaluatePrivacy(context.Background(), synthetic)
				require.NoError(t, err)
				qualityReport, err := s.EvaluateQuality(synthetic)
				require.NoError(t, err)

				dcr[i] = privacyReport[models.MetricDCRMean]
				quality[i] = qualityReport[models.MetricStatisticalSimilarity]
			}

			for i := 1; i < len(epsilons); i++ {
				assert.GreaterOrEqual(t, dcr[i], dcr[i-1], "dcr %v", dcr)
				assert.LessOrEqual(t, quality[i], quality[i-1], "quality %v", quality)
			}
		})
	}
}

type recordingMetrics struct {
	mu          sync.Mutex
	fits        int
	generations int
	evaluations []string
	quality     float64
	noise       float64
}

func (r *recordingMetrics) RecordFit(string, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fits++
}

func (r *recordingMetrics) RecordGeneration(string, int, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations++
}

func (r *recordingMetrics) RecordEvaluation(kind string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluations = append(r.evaluations, kind)
}

func (r *recordingMetrics) SetQualityScore(_ string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quality = score
}

func (r *recordingMetrics) SetNoiseMultiplier(_ string, multiplier float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noise = multiplier
}

func TestHooks(t *testing.T) {
	real := createDependentTable(120, 18)
	s, err := New(real, &Config{Generator: "ctgan", Epsilon: epsilon(3), Generators: tinyNetworkOptions()}, nil)
	require.NoError(t, err)

	metrics := &recordingMetrics{}
	var epochs []models.EpochStats
	s.SetMetricsRecorder(metrics)
	s.SetTrainingObserver(interfaces.TrainingObserverFunc(func(_ context.Context, stats models.EpochStats) {
		epochs = append(epochs, stats)
	}))

	require.NoError(t, s.Fit(context.Background()))
	require.Len(t, epochs, 3)
	for _, e := range epochs {
		assert.Equal(t, s.RunID(), e.RunID)
	}
	assert.Greater(t, metrics.noise, 0.0)

	synthetic, err := s.Generate(context.Background(), 50)
	require.NoError(t, err)
	_, err = s.EvaluateQuality(synthetic)
	require.NoError(t, err)
	_, err = s.EvaluatePrivacy(context.Background(), synthetic)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.fits)
	assert.Equal(t, 1, metrics.generations)
	assert.Equal(t, []string{"quality", "privacy"}, metrics.evaluations)
	assert.Greater(t, metrics.quality, 0.0)
	assert.Equal(t, 50, s.Run().GeneratedRows)
}

func TestConcurrentGenerate(t *testing.T) {
	real := createPeopleTable(200, 19)
	s, err := Create(context.Background(), real, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			synthetic, err := s.Generate(context.Background(), 100)
			assert.NoError(t, err)
			assert.Equal(t, 100, synthetic.NumRows())
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, s.Run().GeneratedRows)
}

package synthesizer

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

func TestBenchmarkAllGenerators(t *testing.T) {
	table := createDependentTable(200, 5)
	config := &Config{Seed: 3, Generators: tinyNetworkOptions()}

	results, err := Benchmark(context.Background(), table, config, nil, 50, logrus.New())
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, gt := range models.AllGeneratorTypes() {
		r := results[i]
		assert.Equal(t, gt, r.Generator)
		assert.Empty(t, r.Error)
		assert.NotEmpty(t, r.RunID)
		assert.Equal(t, 50, r.Rows)
		score := r.Quality[models.MetricStatisticalSimilarity]
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		assert.Contains(t, r.Privacy, models.MetricDCRMean)
	}
}

func TestBenchmarkSubsetAndErrors(t *testing.T) {
	table := createPeopleTable(100, 1)

	results, err := Benchmark(context.Background(), table, nil,
		[]models.GeneratorType{models.GeneratorTypeCopula}, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Rows)
	assert.Empty(t, results[0].Quality)

	_, err = Benchmark(context.Background(), table, &Config{Epsilon: epsilon(-1)}, nil, 10, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

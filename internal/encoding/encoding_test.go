package encoding

import (
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

func createMixedTable(n int, seed int64) *models.Table {
	rng := rand.New(rand.NewSource(seed))
	age := make([]float64, n)
	income := make([]float64, n)
	gender := make([]string, n)
	children := make([]float64, n)
	for i := 0; i < n; i++ {
		age[i] = float64(18 + rng.Intn(58))
		if rng.Float64() < 0.5 {
			income[i] = 30000 + rng.NormFloat64()*2000
		} else {
			income[i] = 90000 + rng.NormFloat64()*5000
		}
		if rng.Float64() < 0.55 {
			gender[i] = "M"
		} else {
			gender[i] = "F"
		}
		children[i] = float64(rng.Intn(4))
	}
	return models.NewTable(
		models.NewFloatColumn("age", age),
		models.NewFloatColumn("income", income),
		models.NewStringColumn("gender", gender),
		models.NewFloatColumn("children", children),
	)
}

func TestProfilerInfer(t *testing.T) {
	profiler := NewProfiler(nil, logrus.New())
	table := createMixedTable(500, 1)

	specs, err := profiler.Infer(table, nil, nil)
	require.NoError(t, err)
	require.Len(t, specs, 4)

	assert.Equal(t, []string{"age", "income", "gender", "children"}, models.SpecNames(specs))
	assert.Equal(t, models.KindNumerical, specs[0].Kind)
	assert.Equal(t, models.KindNumerical, specs[1].Kind)
	assert.Equal(t, models.KindCategorical, specs[2].Kind)
	assert.Equal(t, models.KindCategorical, specs[3].Kind)

	assert.True(t, specs[0].Numeric.Integer)
	assert.False(t, specs[1].Numeric.Integer)
	assert.GreaterOrEqual(t, specs[0].Numeric.Min, 18.0)
	assert.LessOrEqual(t, specs[0].Numeric.Max, 75.0)

	assert.Equal(t, []string{"F", "M"}, specs[2].Categorical.Categories)
	assert.Equal(t, []string{"0", "1", "2", "3"}, specs[3].Categorical.Categories)
	assert.InDelta(t, 1.0, specs[2].Categorical.Frequencies[0]+specs[2].Categorical.Frequencies[1], 1e-12)

	assert.Equal(t, []string{"gender", "children"}, CategoricalNames(specs))
	assert.Equal(t, []string{"age", "income"}, NumericalNames(specs))
}

func TestProfilerOverrides(t *testing.T) {
	profiler := NewProfiler(nil, nil)
	table := createMixedTable(200, 2)

	specs, err := profiler.Infer(table, []string{"age"}, []string{"children"})
	require.NoError(t, err)
	assert.Equal(t, models.KindCategorical, specs[0].Kind)
	assert.Equal(t, models.KindNumerical, specs[3].Kind)

	tests := []struct {
		name        string
		categorical []string
		numerical   []string
		code        string
	}{
		{"conflict", []string{"age"}, []string{"age"}, errors.CodeConflictingOverrides},
		{"unknown categorical", []string{"height"}, nil, errors.CodeUnknownColumn},
		{"unknown numerical", nil, []string{"height"}, errors.CodeUnknownColumn},
		{"string as numerical", nil, []string{"gender"}, errors.CodeInvalidColumnType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := profiler.Infer(table, tt.categorical, tt.numerical)
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err))
			appErr, ok := errors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestProfilerRejectsInvalidTable(t *testing.T) {
	profiler := NewProfiler(nil, nil)

	_, err := profiler.Infer(models.NewTable(), nil, nil)
	assert.True(t, errors.IsConfigurationError(err))

	ragged := models.NewTable(
		models.NewFloatColumn("a", []float64{1, 2}),
		models.NewFloatColumn("b", []float64{1}),
	)
	_, err = profiler.Infer(ragged, nil, nil)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestChooseFamily(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	normal := make([]float64, 5000)
	uniform := make([]float64, 5000)
	exponential := make([]float64, 5000)
	for i := range normal {
		normal[i] = 10 * rng.NormFloat64()
		uniform[i] = -5 + 10*rng.Float64()
		exponential[i] = rng.ExpFloat64() * 3
	}

	assert.Equal(t, models.FamilyNormal, chooseFamily(normal))
	assert.Equal(t, models.FamilyUniform, chooseFamily(uniform))
	assert.Equal(t, models.FamilyExponential, chooseFamily(exponential))
	assert.Equal(t, models.FamilyNormal, chooseFamily([]float64{4, 4, 4}))
}

func TestFitModesSeparatesBimodalData(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	values := make([]float64, 1000)
	for i := range values {
		if i%2 == 0 {
			values[i] = -10 + rng.NormFloat64()
		} else {
			values[i] = 10 + rng.NormFloat64()
		}
	}

	modes := fitModes(values, getDefaultModeConfig())
	require.NotEmpty(t, modes)

	total := 0.0
	for _, m := range modes {
		total += m.Weight
		assert.Greater(t, m.Std, 0.0)
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	low := modes[assignMode(-10, modes)]
	high := modes[assignMode(10, modes)]
	assert.NotEqual(t, low.Mean, high.Mean)
	assert.InDelta(t, -10, low.Mean, 2)
	assert.InDelta(t, 10, high.Mean, 2)
}

func TestFitModesConstantColumn(t *testing.T) {
	modes := fitModes([]float64{7, 7, 7, 7}, getDefaultModeConfig())
	require.Len(t, modes, 1)
	assert.Equal(t, 7.0, modes[0].Mean)
	assert.Greater(t, modes[0].Std, 0.0)
}

func TestTransformerCategoricalRoundTrip(t *testing.T) {
	table := models.NewTable(
		models.NewStringColumn("color", []string{"red", "green", "blue", "red", "green"}),
		models.NewFloatColumn("level", []float64{1, 2.5, 1, 0.1, 2.5}),
		models.NewStringColumn("flag", []string{"y", "n", "n", "n", "y"}),
	)
	specs, err := NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)
	for _, s := range specs {
		require.True(t, s.IsCategorical())
	}

	transformer, err := FitTransformer(table, specs, nil)
	require.NoError(t, err)
	assert.Equal(t, 3+3+2, transformer.Dim())

	encoded, err := transformer.Encode(table)
	require.NoError(t, err)

	rows, cols := encoded.Dims()
	assert.Equal(t, 5, rows)
	assert.Equal(t, transformer.Dim(), cols)

	decoded, err := transformer.Decode(encoded)
	require.NoError(t, err)
	assert.True(t, table.Equal(decoded))
}

func TestTransformerNumericRoundTrip(t *testing.T) {
	table := createMixedTable(400, 5)
	specs, err := NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)

	transformer, err := FitTransformer(table, specs, nil)
	require.NoError(t, err)

	encoded, err := transformer.Encode(table)
	require.NoError(t, err)
	decoded, err := transformer.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, table.ColumnNames(), decoded.ColumnNames())

	age, _ := table.Column("age")
	decodedAge, _ := decoded.Column("age")
	for i := range age.Floats {
		assert.InDelta(t, age.Floats[i], decodedAge.Floats[i], 1.0)
	}

	income, _ := table.Column("income")
	decodedIncome, _ := decoded.Column("income")
	maxErr := 0.0
	for i := range income.Floats {
		maxErr = math.Max(maxErr, math.Abs(income.Floats[i]-decodedIncome.Floats[i]))
	}
	assert.Less(t, maxErr, 10000.0)

	gender, _ := table.Column("gender")
	decodedGender, _ := decoded.Column("gender")
	assert.Equal(t, gender.Strings, decodedGender.Strings)
}

func TestTransformerUnknownCategory(t *testing.T) {
	table := models.NewTable(models.NewStringColumn("color", []string{"red", "green"}))
	specs, err := NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)
	transformer, err := FitTransformer(table, specs, nil)
	require.NoError(t, err)

	_, err = transformer.Encode(models.NewTable(models.NewStringColumn("color", []string{"red", "purple"})))
	require.Error(t, err)
	assert.True(t, errors.IsUnknownCategory(err))

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "color", appErr.Context["column"])
	assert.Equal(t, "purple", appErr.Context["value"])
}

func TestTransformerSegments(t *testing.T) {
	table := createMixedTable(300, 6)
	specs, err := NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)
	transformer, err := FitTransformer(table, specs, nil)
	require.NoError(t, err)

	width := 0
	for _, seg := range transformer.Segments() {
		assert.Equal(t, width, seg.Offset)
		width += seg.Width
	}
	assert.Equal(t, transformer.Dim(), width)

	cats := transformer.CategoricalSegments()
	require.Len(t, cats, 2)
	assert.Equal(t, "gender", cats[0].Name)
	assert.Equal(t, 2, cats[0].Width)
	assert.Equal(t, "children", cats[1].Name)
	assert.Equal(t, 4, cats[1].Width)
}

func TestPrivateTransformerWidthIgnoresData(t *testing.T) {
	table := createMixedTable(300, 7)
	specs, err := NewProfiler(nil, nil).Infer(table, nil, nil)
	require.NoError(t, err)

	var released [][]float64
	record := func(counts []float64) []float64 {
		released = append(released, counts)
		return counts
	}
	exact, err := FitPrivateTransformer(table, specs, nil, record)
	require.NoError(t, err)

	require.Len(t, released, 2)
	for _, counts := range released {
		assert.Len(t, counts, constants.DefaultModeHistogramBins)
		assert.InDelta(t, 300.0, floats.Sum(counts), 1e-9)
	}

	flattened, err := FitPrivateTransformer(table, specs, nil, func(counts []float64) []float64 {
		return make([]float64, len(counts))
	})
	require.NoError(t, err)

	want := 2*(1+constants.DefaultMaxModes) + 2 + 4
	assert.Equal(t, want, exact.Dim())
	assert.Equal(t, want, flattened.Dim())
	for _, spec := range exact.Specs() {
		if spec.IsCategorical() {
			assert.Nil(t, spec.Categorical.Frequencies)
		}
	}

	encoded, err := flattened.Encode(table)
	require.NoError(t, err)
	decoded, err := flattened.Decode(encoded)
	require.NoError(t, err)
	age, _ := decoded.Column("age")
	for _, v := range age.Floats {
		assert.GreaterOrEqual(t, v, specs[0].Numeric.Min)
		assert.LessOrEqual(t, v, specs[0].Numeric.Max)
	}
}

func TestNumericMarginal(t *testing.T) {
	m := NewEmpiricalMarginal([]float64{1, 2, 2, 3})

	assert.InDelta(t, 0.125, m.CDF(1), 1e-12)
	assert.InDelta(t, 0.5, m.CDF(2), 1e-12)
	assert.InDelta(t, 0.875, m.CDF(3), 1e-12)
	assert.InDelta(t, 0.125, m.CDF(-10), 1e-12)
	assert.InDelta(t, 0.875, m.CDF(10), 1e-12)

	for _, x := range []float64{1, 1.5, 2, 2.7, 3} {
		assert.InDelta(t, x, m.Quantile(m.CDF(x)), 1e-9)
	}
	assert.Equal(t, 1.0, m.Quantile(0))
	assert.Equal(t, 3.0, m.Quantile(1))
}

func TestHistogramMarginal(t *testing.T) {
	counts := HistogramCounts([]float64{0, 0.5, 1, 9, 10}, 0, 10, 5)
	assert.Equal(t, []float64{3, 0, 0, 0, 2}, counts)

	m := NewHistogramMarginal(0, 10, []float64{3, -1, 0, 0, 2})
	assert.Equal(t, 0.0, m.CDF(0))
	assert.Equal(t, 1.0, m.CDF(10))
	assert.InDelta(t, 0.6, m.CDF(2), 1e-12)
	assert.InDelta(t, 0.6, m.CDF(8), 1e-12)

	q := m.Quantile(0.3)
	assert.GreaterOrEqual(t, q, 0.0)
	assert.LessOrEqual(t, q, 2.0)
	q = m.Quantile(0.9)
	assert.GreaterOrEqual(t, q, 8.0)
	assert.LessOrEqual(t, q, 10.0)
}

func TestCategoricalMarginal(t *testing.T) {
	m := NewCategoricalMarginal([]float64{0.2, 0.5, 0.3})

	assert.InDelta(t, 0.25, m.Forward(1), 1e-12)
	assert.InDelta(t, 0.65, m.Forward(2), 1e-12)
	assert.InDelta(t, 0.9, m.Forward(0), 1e-12)

	for idx := 0; idx < 3; idx++ {
		assert.Equal(t, idx, m.Inverse(m.Forward(idx)))
	}
	assert.Equal(t, 1, m.Inverse(0))
	assert.Equal(t, 0, m.Inverse(1))

	p := m.Probabilities()
	assert.InDelta(t, 0.2, p[0], 1e-12)
	assert.InDelta(t, 0.5, p[1], 1e-12)
	assert.InDelta(t, 0.3, p[2], 1e-12)
}

func TestWithFrequencies(t *testing.T) {
	specs := []models.ColumnSpec{
		{Name: "age", Kind: models.KindNumerical, Type: models.ColumnTypeFloat, Numeric: &models.NumericDomain{Min: 18, Max: 75}},
		{Name: "gender", Kind: models.KindCategorical, Type: models.ColumnTypeString, Categorical: &models.CategoricalDomain{
			Categories: []string{"F", "M"}, Frequencies: []float64{0.4, 0.6},
		}},
		{Name: "segment", Kind: models.KindCategorical, Type: models.ColumnTypeString, Categorical: &models.CategoricalDomain{
			Categories: []string{"a", "b"}, Frequencies: []float64{0.9, 0.1},
		}},
	}

	released := WithFrequencies(specs, map[string][]float64{"gender": {0.5, 0.5}})
	assert.Equal(t, specs[0], released[0])
	assert.Equal(t, []string{"F", "M"}, released[1].Categorical.Categories)
	assert.Equal(t, []float64{0.5, 0.5}, released[1].Categorical.Frequencies)
	assert.Nil(t, released[2].Categorical.Frequencies)

	assert.Equal(t, []float64{0.4, 0.6}, specs[1].Categorical.Frequencies)
	assert.Equal(t, []float64{0.9, 0.1}, specs[2].Categorical.Frequencies)
}

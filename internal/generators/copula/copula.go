package copula

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/privacy"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

// Config contains configuration for the Gaussian copula generator
type Config struct {
	// HistogramBins is the number of bins of the noisy marginal histograms
	// used when a privacy budget is set.
	HistogramBins   int     `json:"histogram_bins" mapstructure:"histogram_bins"`
	EigenvalueFloor float64 `json:"eigenvalue_floor" mapstructure:"eigenvalue_floor"`
	SampleChunkSize int     `json:"sample_chunk_size" mapstructure:"sample_chunk_size"`
}

// Generator fits Gaussian copula models
type Generator struct {
	config *Config
	logger *logrus.Logger
}

// NewGenerator creates a new copula generator
func NewGenerator(config *Config, logger *logrus.Logger) *Generator {
	if config == nil {
		config = getDefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Generator{config: config, logger: logger}
}

// GetType returns the generator type
func (g *Generator) GetType() models.GeneratorType {
	return models.GeneratorTypeCopula
}

// Fit estimates per-column marginals and the Gaussian copula correlation
func (g *Generator) Fit(ctx context.Context, table *models.Table, specs []models.ColumnSpec, budget *models.PrivacyBudget, rng *rand.Rand) (interfaces.Model, error) {
	budget, err := privacy.NormalizeBudget(budget)
	if err != nil {
		return nil, err
	}
	n := table.NumRows()
	if n < 2 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidTable,
			fmt.Sprintf("copula fit needs at least 2 rows, got %d", n))
	}
	if len(specs) == 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidTable, "no columns to fit")
	}

	start := time.Now()
	k := len(specs)
	private := !budget.NoNoise()

	operations := 1 + k
	var share *models.PrivacyBudget
	var ledger *privacy.BudgetLedger
	if private {
		share = budget.Split(operations)
		ledger = privacy.NewBudgetLedger(budget, nil)
	}
	marginalSigma, err := privacy.NoiseScale(budget, 1, operations)
	if err != nil {
		return nil, err
	}

	model := &Model{
		specs:       specs,
		numeric:     make([]*encoding.NumericMarginal, k),
		categorical: make([]*encoding.CategoricalMarginal, k),
		chunkSize:   g.config.SampleChunkSize,
	}

	z := mat.NewDense(n, k, nil)
	uFloor := 1 / (2 * float64(n))
	for j, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		col, ok := table.Column(spec.Name)
		if !ok {
			return nil, errors.NewConfigurationError(errors.CodeSchemaMismatch,
				fmt.Sprintf("table has no column %q", spec.Name))
		}

		if private {
			if err := ledger.Spend("marginal:"+spec.Name, "gaussian", share.Epsilon, share.Delta); err != nil {
				return nil, err
			}
		}
		mech := privacy.NewGaussianMechanism(marginalSigma, rng)

		uniforms, err := g.fitMarginal(model, j, spec, col, mech, private)
		if err != nil {
			return nil, err
		}
		for i, u := range uniforms {
			z.Set(i, j, distuv.UnitNormal.Quantile(clamp(u, uFloor, 1-uFloor)))
		}
	}

	var corr *mat.SymDense
	if private {
		c := distuv.UnitNormal.Quantile(1 - uFloor)
		sensitivity := 2 * float64(k) * c * c / float64(n)
		sigma, err := privacy.NoiseScale(budget, sensitivity, operations)
		if err != nil {
			return nil, err
		}
		if err := ledger.Spend("correlation", "gaussian", share.Epsilon, share.Delta); err != nil {
			return nil, err
		}

		moment := secondMoment(z)
		privacy.NewGaussianMechanism(sigma, rng).PerturbSymmetric(moment)
		corr = normalizeToCorrelation(moment, 1e-3)
		model.specs = releasedSpecs(specs, model.categorical)

		spentEpsilon, spentDelta := ledger.Spent()
		g.logger.WithFields(logrus.Fields{
			"epsilon":       budget.Epsilon,
			"delta":         budget.Delta,
			"spent_epsilon": spentEpsilon,
			"spent_delta":   spentDelta,
			"operations":    operations,
			"sensitivity":   sensitivity,
			"sigma":         sigma,
		}).Debug("Released noisy copula statistics")
	} else {
		corr = sampleCorrelation(z)
	}

	repaired, clipped, err := repairCorrelation(corr, g.config.EigenvalueFloor)
	if err != nil {
		return nil, err
	}
	if clipped {
		g.logger.WithFields(logrus.Fields{
			"generator": models.GeneratorTypeCopula,
			"columns":   k,
		}).Warn("Correlation matrix repaired to nearest positive definite matrix")
	}

	chol, err := choleskyFactor(repaired)
	if err != nil {
		return nil, err
	}
	model.correlation = repaired
	model.chol = chol

	g.logger.WithFields(logrus.Fields{
		"generator": models.GeneratorTypeCopula,
		"rows":      n,
		"columns":   k,
		"private":   private,
		"duration":  time.Since(start),
	}).Info("Fitted copula model")

	return model, nil
}

// releasedSpecs replaces the exact categorical frequencies by the noisy
// ones the model samples from
func releasedSpecs(specs []models.ColumnSpec, categorical []*encoding.CategoricalMarginal) []models.ColumnSpec {
	released := make(map[string][]float64)
	for j, spec := range specs {
		if categorical[j] != nil {
			released[spec.Name] = categorical[j].Probabilities()
		}
	}
	return encoding.WithFrequencies(specs, released)
}

// fitMarginal fits column j's marginal and returns the uniform score of
// every row under it.
func (g *Generator) fitMarginal(model *Model, j int, spec models.ColumnSpec, col *models.Column, mech *privacy.GaussianMechanism, private bool) ([]float64, error) {
	n := col.Len()
	uniforms := make([]float64, n)

	if spec.IsCategorical() {
		index := encoding.CategoryIndex(spec.Categorical)
		codes := make([]int, n)
		counts := make([]float64, len(spec.Categorical.Categories))
		for i := 0; i < n; i++ {
			key := col.Key(i)
			c, ok := index[key]
			if !ok {
				return nil, errors.NewUnknownCategoryError(spec.Name, key)
			}
			codes[i] = c
			counts[c]++
		}

		probabilities := spec.Categorical.Frequencies
		if private {
			probabilities = mech.PerturbCounts(counts)
		}
		marginal := encoding.NewCategoricalMarginal(probabilities)
		model.categorical[j] = marginal

		for i, c := range codes {
			uniforms[i] = marginal.Forward(c)
		}
		return uniforms, nil
	}

	if col.Type != models.ColumnTypeFloat {
		return nil, errors.NewConfigurationError(errors.CodeInvalidColumnType,
			fmt.Sprintf("numerical column %q is not numeric", spec.Name))
	}

	var marginal *encoding.NumericMarginal
	if private {
		bins := g.config.HistogramBins
		counts := encoding.HistogramCounts(col.Floats, spec.Numeric.Min, spec.Numeric.Max, bins)
		marginal = encoding.NewHistogramMarginal(spec.Numeric.Min, spec.Numeric.Max, mech.PerturbCounts(counts))
	} else {
		marginal = encoding.NewEmpiricalMarginal(col.Floats)
	}
	model.numeric[j] = marginal

	for i, x := range col.Floats {
		uniforms[i] = marginal.CDF(x)
	}
	return uniforms, nil
}

// Model is a fitted Gaussian copula
type Model struct {
	specs       []models.ColumnSpec
	numeric     []*encoding.NumericMarginal
	categorical []*encoding.CategoricalMarginal
	correlation *mat.SymDense
	chol        *mat.TriDense
	chunkSize   int
}

// Specs returns the column specs the model was fitted against
func (m *Model) Specs() []models.ColumnSpec {
	return m.specs
}

// Correlation returns a copy of the fitted copula correlation matrix
func (m *Model) Correlation() *mat.SymDense {
	out := mat.NewSymDense(m.correlation.SymmetricDim(), nil)
	out.CopySym(m.correlation)
	return out
}

// Sample draws n rows: correlated normals through the normal CDF, then each
// column's inverse marginal.
func (m *Model) Sample(ctx context.Context, n int, rng *rand.Rand) (*models.Table, error) {
	if n < 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidSampleCount,
			fmt.Sprintf("sample count must be non-negative, got %d", n))
	}
	if n == 0 {
		return encoding.EmptyTable(m.specs), nil
	}

	k := len(m.specs)
	floatsOut := make([][]float64, k)
	keysOut := make([][]string, k)
	for j, spec := range m.specs {
		if spec.IsCategorical() {
			keysOut[j] = make([]string, n)
		} else {
			floatsOut[j] = make([]float64, n)
		}
	}

	chunk := m.chunkSize
	if chunk <= 0 {
		chunk = constants.DefaultSampleChunkSize
	}

	g := mat.NewVecDense(k, nil)
	x := mat.NewVecDense(k, nil)
	for i := 0; i < n; i++ {
		if i%chunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for j := 0; j < k; j++ {
			g.SetVec(j, rng.NormFloat64())
		}
		x.MulVec(m.chol, g)

		for j, spec := range m.specs {
			u := distuv.UnitNormal.CDF(x.AtVec(j))
			if spec.IsCategorical() {
				keysOut[j][i] = spec.Categorical.Categories[m.categorical[j].Inverse(u)]
			} else {
				floatsOut[j][i] = encoding.ClampToDomain(spec.Numeric, m.numeric[j].Quantile(u))
			}
		}
	}

	columns := make([]models.Column, k)
	for j, spec := range m.specs {
		if spec.IsCategorical() {
			col, err := encoding.ColumnFromKeys(spec, keysOut[j])
			if err != nil {
				return nil, err
			}
			columns[j] = col
		} else {
			columns[j] = models.NewFloatColumn(spec.Name, floatsOut[j])
		}
	}
	return models.NewTable(columns...), nil
}

func getDefaultConfig() *Config {
	return &Config{
		HistogramBins:   constants.DefaultHistogramBins,
		EigenvalueFloor: constants.DefaultEigenvalueFloor,
		SampleChunkSize: constants.DefaultSampleChunkSize,
	}
}

// DefaultConfig returns the default copula configuration
func DefaultConfig() *Config {
	return getDefaultConfig()
}

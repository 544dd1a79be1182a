package evaluation

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tabsynth/pkg/models"
)

// QualityEvaluator compares the marginal and pairwise structure of a
// synthetic table against the real one
type QualityEvaluator struct {
	config *Config
	logger *logrus.Logger
}

// NewQualityEvaluator creates a new quality evaluator
func NewQualityEvaluator(config *Config, logger *logrus.Logger) *QualityEvaluator {
	if config == nil {
		config = getDefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &QualityEvaluator{config: config, logger: logger}
}

// Evaluate scores synthetic against real over the spec columns. Every score
// lies in [0,1] with 1 meaning indistinguishable.
func (e *QualityEvaluator) Evaluate(real, synthetic *models.Table, specs []models.ColumnSpec) (models.QualityReport, error) {
	if err := checkSchema(specs, real, synthetic); err != nil {
		return nil, err
	}
	start := time.Now()
	real = subsample(real, e.config.MaxRows, e.config.Seed)
	synthetic = subsample(synthetic, e.config.MaxRows, e.config.Seed+1)

	report := make(models.QualityReport)
	var scores, numeric, categorical []float64
	var realNumeric, synthNumeric [][]float64

	for _, spec := range specs {
		rc, _ := real.Column(spec.Name)
		sc, _ := synthetic.Column(spec.Name)

		if spec.IsCategorical() {
			score := 1 - totalVariation(keysOf(rc), keysOf(sc))
			report[models.MetricTVPrefix+spec.Name] = score
			categorical = append(categorical, score)
			scores = append(scores, score)
			continue
		}

		score := 1 - twoSampleKS(rc.Floats, sc.Floats)
		report[models.MetricKSPrefix+spec.Name] = score
		numeric = append(numeric, score)
		scores = append(scores, score)
		realNumeric = append(realNumeric, rc.Floats)
		synthNumeric = append(synthNumeric, sc.Floats)
	}

	if len(realNumeric) >= 2 {
		score := correlationSimilarity(realNumeric, synthNumeric)
		report[models.MetricCorrelationSimilarity] = score
		scores = append(scores, score)
	}
	if len(numeric) > 0 {
		report[models.MetricNumericalSimilarity] = stat.Mean(numeric, nil)
	}
	if len(categorical) > 0 {
		report[models.MetricCategoricalSimilarity] = stat.Mean(categorical, nil)
	}
	report[models.MetricStatisticalSimilarity] = stat.Mean(scores, nil)

	e.logger.WithFields(logrus.Fields{
		"real_rows":              real.NumRows(),
		"synthetic_rows":         synthetic.NumRows(),
		"statistical_similarity": report[models.MetricStatisticalSimilarity],
		"duration":               time.Since(start),
	}).Debug("Evaluated quality")

	return report, nil
}

// correlationSimilarity is one minus the Frobenius distance between the
// Pearson correlation matrices of the two column sets, normalised by its
// largest possible value 2*sqrt(k(k-1)).
func correlationSimilarity(real, synthetic [][]float64) float64 {
	k := len(real)
	a := pearson(real)
	b := pearson(synthetic)

	var diff mat.Dense
	diff.Sub(a, b)
	dist := mat.Norm(&diff, 2)
	score := 1 - dist/(2*math.Sqrt(float64(k*(k-1))))
	return math.Max(0, math.Min(1, score))
}

// pearson returns the correlation matrix of the given columns. Pairs
// involving a constant column correlate at zero.
func pearson(columns [][]float64) *mat.SymDense {
	k := len(columns)
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		out.SetSym(i, i, 1)
		for j := i + 1; j < k; j++ {
			r := stat.Correlation(columns[i], columns[j], nil)
			if math.IsNaN(r) {
				r = 0
			}
			out.SetSym(i, j, r)
		}
	}
	return out
}

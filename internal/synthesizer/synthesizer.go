package synthesizer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/evaluation"
	"github.com/inferloop/tabsynth/internal/generators"
	"github.com/inferloop/tabsynth/internal/privacy"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

// Synthesizer fits one generator to one table and serves samples and
// evaluations from the fitted model
type Synthesizer struct {
	config        *Config
	logger        *logrus.Logger
	table         *models.Table
	specs         []models.ColumnSpec
	generatorType models.GeneratorType
	budget        *models.PrivacyBudget
	factory       *generators.Factory
	quality       *evaluation.QualityEvaluator
	privacy       *evaluation.PrivacyEvaluator
	runID         string
	createdAt     time.Time

	metrics  MetricsRecorder
	observer interfaces.TrainingObserver

	mu          sync.RWMutex
	model       interfaces.Model
	fitDuration time.Duration
	generated   int

	// sampleRNG is shared by Generate calls and guarded by rngMu so the
	// output stream depends only on the seed and the call order.
	rngMu     sync.Mutex
	sampleRNG *rand.Rand
}

// New validates the configuration and profiles the table. Configuration
// and budget errors are reported here, before any fitting.
func New(table *models.Table, config *Config, logger *logrus.Logger) (*Synthesizer, error) {
	if config == nil {
		config = getDefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	generatorType, ok := models.ParseGeneratorType(config.Generator)
	if !ok {
		return nil, errors.NewConfigurationError(errors.CodeInvalidGenerator,
			fmt.Sprintf("unknown generator %q", config.Generator)).
			WithContext("generator", config.Generator)
	}

	budget, err := privacy.ResolveBudget(config.Epsilon, config.Delta)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidEpsilon,
			"invalid privacy parameters")
	}

	specs, err := encoding.NewProfiler(config.Profiler, logger).Infer(table, config.CategoricalColumns, config.NumericalColumns)
	if err != nil {
		return nil, err
	}

	s := &Synthesizer{
		config:        config,
		logger:        logger,
		table:         table,
		specs:         specs,
		generatorType: generatorType,
		budget:        budget,
		factory:       generators.NewFactory(logger),
		quality:       evaluation.NewQualityEvaluator(config.Evaluation, logger),
		privacy:       evaluation.NewPrivacyEvaluator(config.Evaluation, logger),
		runID:         uuid.New().String(),
		createdAt:     time.Now(),
		metrics:       noopRecorder{},
		sampleRNG:     rand.New(rand.NewSource(config.Seed + 1)),
	}

	logger.WithFields(logrus.Fields{
		"run_id":    s.runID,
		"generator": generatorType,
		"rows":      table.NumRows(),
		"columns":   len(specs),
		"epsilon":   s.epsilonField(),
	}).Info("Created synthesizer")

	return s, nil
}

// Create builds a synthesizer and fits it
func Create(ctx context.Context, table *models.Table, config *Config, logger *logrus.Logger) (*Synthesizer, error) {
	s, err := New(table, config, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Fit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// SetMetricsRecorder installs a metrics recorder. Call before Fit.
func (s *Synthesizer) SetMetricsRecorder(recorder MetricsRecorder) {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	s.metrics = recorder
}

// SetTrainingObserver installs an observer for per-epoch statistics of
// iterative generators. Call before Fit.
func (s *Synthesizer) SetTrainingObserver(observer interfaces.TrainingObserver) {
	s.observer = observer
}

// Fit trains the configured generator. A failed fit leaves the
// synthesizer unfitted; Fit may then be retried.
func (s *Synthesizer) Fit(ctx context.Context) error {
	options := generators.Options{}
	if s.config.Generators != nil {
		options = *s.config.Generators
	}
	options.Observer = &runObserver{
		runID:   s.runID,
		metrics: s.metrics,
		next:    s.observer,
	}

	generator, err := s.factory.CreateGenerator(s.generatorType, &options)
	if err != nil {
		return err
	}

	start := time.Now()
	model, err := generator.Fit(ctx, s.table, s.specs, s.budget, rand.New(rand.NewSource(s.config.Seed)))
	duration := time.Since(start)
	s.metrics.RecordFit(string(s.generatorType), duration, err)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"run_id":    s.runID,
			"generator": s.generatorType,
			"error":     err.Error(),
		}).Error("Fit failed")
		return err
	}

	s.mu.Lock()
	s.model = model
	s.fitDuration = duration
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"run_id":    s.runID,
		"generator": s.generatorType,
		"duration":  duration,
	}).Info("Fitted synthesizer")

	return nil
}

// Generate draws n synthetic rows from the fitted model
func (s *Synthesizer) Generate(ctx context.Context, n int) (*models.Table, error) {
	model, err := s.fitted("generate")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidSampleCount,
			fmt.Sprintf("sample count must be non-negative, got %d", n))
	}

	start := time.Now()
	s.rngMu.Lock()
	table, err := model.Sample(ctx, n, s.sampleRNG)
	s.rngMu.Unlock()
	s.metrics.RecordGeneration(string(s.generatorType), n, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.generated += n
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"run_id":    s.runID,
		"generator": s.generatorType,
		"rows":      n,
		"duration":  time.Since(start),
	}).Debug("Generated rows")

	return table, nil
}

// EvaluateQuality scores a synthetic table against the training table
func (s *Synthesizer) EvaluateQuality(synthetic *models.Table) (models.QualityReport, error) {
	if _, err := s.fitted("evaluate_quality"); err != nil {
		return nil, err
	}
	start := time.Now()
	report, err := s.quality.Evaluate(s.table, synthetic, s.specs)
	s.metrics.RecordEvaluation("quality", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	s.metrics.SetQualityScore(string(s.generatorType), report[models.MetricStatisticalSimilarity])
	return report, nil
}

// EvaluatePrivacy measures how closely a synthetic table reproduces rows of
// the training table
func (s *Synthesizer) EvaluatePrivacy(ctx context.Context, synthetic *models.Table) (models.PrivacyReport, error) {
	if _, err := s.fitted("evaluate_privacy"); err != nil {
		return nil, err
	}
	start := time.Now()
	report, err := s.privacy.Evaluate(ctx, s.table, synthetic, s.specs)
	s.metrics.RecordEvaluation("privacy", time.Since(start), err)
	return report, err
}

// Specs returns the resolved column specs
func (s *Synthesizer) Specs() []models.ColumnSpec {
	return s.specs
}

// CategoricalColumns returns the names of the categorical columns
func (s *Synthesizer) CategoricalColumns() []string {
	return encoding.CategoricalNames(s.specs)
}

// NumericalColumns returns the names of the numerical columns
func (s *Synthesizer) NumericalColumns() []string {
	return encoding.NumericalNames(s.specs)
}

// RunID returns the identifier of this synthesis run
func (s *Synthesizer) RunID() string {
	return s.runID
}

// Generator returns the resolved generator type
func (s *Synthesizer) Generator() models.GeneratorType {
	return s.generatorType
}

// Budget returns the resolved privacy budget, nil when no noise is applied
func (s *Synthesizer) Budget() *models.PrivacyBudget {
	return s.budget
}

// Fitted reports whether a fit has completed
func (s *Synthesizer) Fitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

// Run returns the run record of this synthesizer. Reports may be attached
// by the caller.
func (s *Synthesizer) Run() *models.SynthesisRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run := &models.SynthesisRun{
		ID:            s.runID,
		Generator:     s.generatorType,
		Seed:          s.config.Seed,
		SourceRows:    s.table.NumRows(),
		GeneratedRows: s.generated,
		Columns:       models.SpecNames(s.specs),
		FitDuration:   s.fitDuration,
		CreatedAt:     s.createdAt,
	}
	if s.budget != nil {
		eps := s.budget.Epsilon
		run.Epsilon = &eps
		run.Delta = s.budget.Delta
	}
	return run
}

func (s *Synthesizer) fitted(operation string) (interfaces.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return nil, errors.NewNotFittedError(operation)
	}
	return s.model, nil
}

func (s *Synthesizer) epsilonField() interface{} {
	if s.budget == nil {
		return "none"
	}
	return s.budget.Epsilon
}

// runObserver stamps epoch statistics with the run ID and forwards them to
// the metrics recorder and the user observer
type runObserver struct {
	runID   string
	metrics MetricsRecorder
	next    interfaces.TrainingObserver
}

func (o *runObserver) OnEpoch(ctx context.Context, stats models.EpochStats) {
	stats.RunID = o.runID
	o.metrics.SetNoiseMultiplier(string(stats.Generator), stats.NoiseMultiplier)
	if o.next != nil {
		o.next.OnEpoch(ctx, stats)
	}
}

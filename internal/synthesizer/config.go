package synthesizer

import (
	"time"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/evaluation"
	"github.com/inferloop/tabsynth/internal/generators"
	"github.com/inferloop/tabsynth/pkg/constants"
)

// Config selects the generator, privacy budget and column overrides of a
// synthesis run
type Config struct {
	// Generator is copula, adversarial or variational (aliases ctgan and
	// tvae are accepted). Empty means copula.
	Generator string `json:"generator" mapstructure:"generator"`
	// Epsilon is the privacy budget. Nil disables noise.
	Epsilon *float64 `json:"epsilon,omitempty" mapstructure:"epsilon"`
	// Delta defaults to 1e-5 when zero and Epsilon is set.
	Delta              float64  `json:"delta" mapstructure:"delta"`
	CategoricalColumns []string `json:"categorical_columns,omitempty" mapstructure:"categorical_columns"`
	NumericalColumns   []string `json:"numerical_columns,omitempty" mapstructure:"numerical_columns"`
	Seed               int64    `json:"seed" mapstructure:"seed"`

	Profiler   *encoding.ProfilerConfig `json:"profiler,omitempty" mapstructure:"profiler"`
	Generators *generators.Options      `json:"generators,omitempty" mapstructure:"generators"`
	Evaluation *evaluation.Config       `json:"evaluation,omitempty" mapstructure:"evaluation"`
}

func getDefaultConfig() *Config {
	return &Config{
		Generator: constants.DefaultGenerator,
		Seed:      constants.DefaultSeed,
	}
}

// DefaultConfig returns the default synthesis configuration
func DefaultConfig() *Config {
	return getDefaultConfig()
}

// MetricsRecorder receives timing and score observations from a
// Synthesizer. All methods must be safe for concurrent use.
type MetricsRecorder interface {
	RecordFit(generator string, duration time.Duration, err error)
	RecordGeneration(generator string, rows int, duration time.Duration, err error)
	RecordEvaluation(kind string, duration time.Duration, err error)
	SetQualityScore(generator string, score float64)
	SetNoiseMultiplier(generator string, multiplier float64)
}

type noopRecorder struct{}

func (noopRecorder) RecordFit(string, time.Duration, error)             {}
func (noopRecorder) RecordGeneration(string, int, time.Duration, error) {}
func (noopRecorder) RecordEvaluation(string, time.Duration, error)      {}
func (noopRecorder) SetQualityScore(string, float64)                    {}
func (noopRecorder) SetNoiseMultiplier(string, float64)                 {}

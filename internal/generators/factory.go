package generators

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/generators/copula"
	"github.com/inferloop/tabsynth/internal/generators/ctgan"
	"github.com/inferloop/tabsynth/internal/generators/tvae"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

// Options carries per-generator configuration. Nil sections fall back to
// the generator defaults.
type Options struct {
	Copula      *copula.Config `json:"copula,omitempty" mapstructure:"copula"`
	Adversarial *ctgan.Config  `json:"adversarial,omitempty" mapstructure:"adversarial"`
	Variational *tvae.Config   `json:"variational,omitempty" mapstructure:"variational"`

	// Observer receives epoch statistics from iterative generators
	Observer interfaces.TrainingObserver `json:"-" mapstructure:"-"`
}

// CreateFunc builds a generator from options
type CreateFunc func(options *Options, logger *logrus.Logger) interfaces.Generator

// Factory creates generators by type
type Factory struct {
	creators map[models.GeneratorType]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new generator factory with the built-in generators
// registered
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[models.GeneratorType]CreateFunc),
		logger:   logger,
	}
	factory.registerDefaults()

	return factory
}

// CreateGenerator creates a new generator instance
func (f *Factory) CreateGenerator(generatorType models.GeneratorType, options *Options) (interfaces.Generator, error) {
	f.mu.RLock()
	createFunc, exists := f.creators[generatorType]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewConfigurationError(errors.CodeInvalidGenerator,
			fmt.Sprintf("generator type '%s' is not supported", generatorType)).
			WithContext("generator", string(generatorType))
	}
	if options == nil {
		options = &Options{}
	}

	generator := createFunc(options, f.logger)

	f.logger.WithFields(logrus.Fields{
		"generator_type": generatorType,
	}).Debug("Created generator instance")

	return generator, nil
}

// GetAvailableGenerators returns all available generator types in name order
func (f *Factory) GetAvailableGenerators() []models.GeneratorType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]models.GeneratorType, 0, len(f.creators))
	for generatorType := range f.creators {
		types = append(types, generatorType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// RegisterGenerator registers a new generator type
func (f *Factory) RegisterGenerator(generatorType models.GeneratorType, createFunc CreateFunc) error {
	if generatorType == "" {
		return errors.NewConfigurationError(errors.CodeInvalidGenerator, "generator type cannot be empty")
	}
	if createFunc == nil {
		return errors.NewConfigurationError(errors.CodeInvalidGenerator, "generator create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[generatorType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"generator_type": generatorType,
	}).Debug("Registered generator type")

	return nil
}

// IsSupported checks if a generator type is supported
func (f *Factory) IsSupported(generatorType models.GeneratorType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[generatorType]
	return exists
}

func (f *Factory) registerDefaults() {
	f.RegisterGenerator(models.GeneratorTypeCopula, func(o *Options, logger *logrus.Logger) interfaces.Generator {
		return copula.NewGenerator(o.Copula, logger)
	})

	f.RegisterGenerator(models.GeneratorTypeAdversarial, func(o *Options, logger *logrus.Logger) interfaces.Generator {
		config := ctgan.DefaultConfig()
		if o.Adversarial != nil {
			c := *o.Adversarial
			config = &c
		}
		if o.Observer != nil {
			config.Observer = o.Observer
		}
		return ctgan.NewGenerator(config, logger)
	})

	f.RegisterGenerator(models.GeneratorTypeVariational, func(o *Options, logger *logrus.Logger) interfaces.Generator {
		config := tvae.DefaultConfig()
		if o.Variational != nil {
			c := *o.Variational
			config = &c
		}
		if o.Observer != nil {
			config.Observer = o.Observer
		}
		return tvae.NewGenerator(config, logger)
	})
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/evaluation"
	"github.com/inferloop/tabsynth/internal/generators"
	"github.com/inferloop/tabsynth/internal/generators/copula"
	"github.com/inferloop/tabsynth/internal/generators/ctgan"
	"github.com/inferloop/tabsynth/internal/generators/tvae"
	"github.com/inferloop/tabsynth/pkg/constants"
)

type CLIConfig struct {
	Generator string  `mapstructure:"generator"`
	Seed      int64   `mapstructure:"seed"`
	Epsilon   float64 `mapstructure:"epsilon"`
	Delta     float64 `mapstructure:"delta"`
	LogLevel  string  `mapstructure:"log_level"`

	Profiler   *encoding.ProfilerConfig `mapstructure:"profiler"`
	Generators *generators.Options      `mapstructure:"generators"`
	Evaluation *evaluation.Config       `mapstructure:"evaluation"`
}

// LoadConfig reads $HOME/.tabsynth/config.yaml, or cfgFile when set, with
// TABSYNTH_ environment overrides. A missing default file is not an error.
// Nested generator and evaluation sections are merged over their defaults.
func LoadConfig(v *viper.Viper, cfgFile string) (*CLIConfig, error) {
	config := &CLIConfig{
		Generator: constants.DefaultGenerator,
		Seed:      constants.DefaultSeed,
		Delta:     constants.DefaultDelta,
		LogLevel:  "warn",
		Generators: &generators.Options{
			Copula:      copula.DefaultConfig(),
			Adversarial: ctgan.DefaultConfig(),
			Variational: tvae.DefaultConfig(),
		},
		Evaluation: evaluation.DefaultConfig(),
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		v.AddConfigPath(filepath.Join(home, "."+constants.AppName))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TABSYNTH")
	v.AutomaticEnv()

	v.SetDefault("generator", config.Generator)
	v.SetDefault("seed", config.Seed)
	v.SetDefault("epsilon", config.Epsilon)
	v.SetDefault("delta", config.Delta)
	v.SetDefault("log_level", config.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+constants.AppName, "config.yaml")
}

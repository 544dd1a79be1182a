package commands

import (
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tabsynth/cmd/cli/config"
	"github.com/inferloop/tabsynth/internal/generators"
	"github.com/inferloop/tabsynth/internal/generators/ctgan"
	"github.com/inferloop/tabsynth/internal/generators/tvae"
	"github.com/inferloop/tabsynth/internal/synthesizer"
)

// Globals is shared by every command. Config is filled in by the root
// command before any command runs.
type Globals struct {
	Config  *config.CLIConfig
	Verbose bool
}

func (g *Globals) cliConfig() *config.CLIConfig {
	if g.Config == nil {
		g.Config = &config.CLIConfig{}
	}
	return g.Config
}

// logger writes to stderr so command output stays machine readable
func (g *Globals) logger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	level, err := logrus.ParseLevel(g.cliConfig().LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	if g.Verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}

// SynthesisFlags are the flags shared by synthesize and benchmark
type SynthesisFlags struct {
	Generator   string
	Seed        int64
	Epsilon     float64
	Delta       float64
	Categorical []string
	Numerical   []string
	Epochs      int
}

func (f *SynthesisFlags) register(cmd *cobra.Command, withGenerator bool) {
	if withGenerator {
		cmd.Flags().StringVarP(&f.Generator, "generator", "g", "", "Generator (copula, adversarial, variational)")
	}
	cmd.Flags().Int64Var(&f.Seed, "seed", 0, "Random seed")
	cmd.Flags().Float64Var(&f.Epsilon, "epsilon", 0, "Privacy budget; 0 disables noise")
	cmd.Flags().Float64Var(&f.Delta, "delta", 0, "Privacy delta")
	cmd.Flags().StringSliceVar(&f.Categorical, "categorical", nil, "Columns forced categorical")
	cmd.Flags().StringSliceVar(&f.Numerical, "numerical", nil, "Columns forced numerical")
	cmd.Flags().IntVar(&f.Epochs, "epochs", 0, "Training epochs of the network generators")
}

// synthesisConfig merges the file configuration with flags that were set
// on the command line
func (f *SynthesisFlags) synthesisConfig(cmd *cobra.Command, g *Globals) *synthesizer.Config {
	cfg := g.cliConfig()
	out := &synthesizer.Config{
		Generator:          cfg.Generator,
		Seed:               cfg.Seed,
		Delta:              cfg.Delta,
		CategoricalColumns: f.Categorical,
		NumericalColumns:   f.Numerical,
		Profiler:           cfg.Profiler,
		Generators:         cfg.Generators,
		Evaluation:         cfg.Evaluation,
	}
	epsilon := cfg.Epsilon

	flags := cmd.Flags()
	if flags.Changed("generator") {
		out.Generator = f.Generator
	}
	if flags.Changed("seed") {
		out.Seed = f.Seed
	}
	if flags.Changed("epsilon") {
		epsilon = f.Epsilon
	}
	if flags.Changed("delta") {
		out.Delta = f.Delta
	}
	if epsilon != 0 {
		out.Epsilon = &epsilon
	}
	if flags.Changed("epochs") {
		out.Generators = withEpochs(out.Generators, f.Epochs)
	}
	return out
}

func withEpochs(options *generators.Options, epochs int) *generators.Options {
	out := &generators.Options{}
	if options != nil {
		*out = *options
	}
	adversarial := ctgan.DefaultConfig()
	if out.Adversarial != nil {
		c := *out.Adversarial
		adversarial = &c
	}
	adversarial.Epochs = epochs
	out.Adversarial = adversarial

	variational := tvae.DefaultConfig()
	if out.Variational != nil {
		c := *out.Variational
		variational = &c
	}
	variational.Epochs = epochs
	out.Variational = variational
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

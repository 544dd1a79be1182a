package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/tabsynth/internal/synthesizer"
	"github.com/inferloop/tabsynth/internal/tableio"
	"github.com/inferloop/tabsynth/pkg/models"
)

type BenchmarkOptions struct {
	SynthesisFlags
	InputFile  string
	OutputFile string
	Generators []string
	Rows       int
}

func NewBenchmarkCmd(g *Globals) *cobra.Command {
	opts := &BenchmarkOptions{}

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare generators on one dataset",
		Long: `Fit each generator on the same table with the same seed and privacy
budget, then report fit and sampling time together with the quality and
privacy metrics of the generated rows as JSON.`,
		Example: `  tabsynth benchmark --input people.csv
  tabsynth benchmark --input people.csv --generators copula,tvae --epsilon 2 --epochs 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, g, opts)
		},
	}

	opts.register(cmd, false)
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input table (required)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "Write results to this file instead of stdout")
	cmd.Flags().StringSliceVar(&opts.Generators, "generators", nil, "Generators to compare (default all)")
	cmd.Flags().IntVarP(&opts.Rows, "rows", "n", -1, "Rows to generate per generator; defaults to the input row count")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runBenchmark(cmd *cobra.Command, g *Globals, opts *BenchmarkOptions) error {
	ctx := cmd.Context()

	types := make([]models.GeneratorType, 0, len(opts.Generators))
	for _, name := range opts.Generators {
		t, ok := models.ParseGeneratorType(name)
		if !ok {
			return fmt.Errorf("unknown generator %q", name)
		}
		types = append(types, t)
	}

	table, err := tableio.ReadTable(ctx, opts.InputFile)
	if err != nil {
		return err
	}
	rows := opts.Rows
	if rows < 0 {
		rows = table.NumRows()
	}

	results, err := synthesizer.Benchmark(ctx, table, opts.synthesisConfig(cmd, g), types, rows, g.logger(cmd))
	if err != nil {
		return err
	}

	if opts.OutputFile == "" {
		return writeJSON(cmd.OutOrStdout(), results)
	}
	f, err := os.Create(opts.OutputFile)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeJSON(f, results)
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/evaluation"
	"github.com/inferloop/tabsynth/internal/tableio"
	"github.com/inferloop/tabsynth/pkg/models"
)

type EvaluateOptions struct {
	RealFile      string
	SyntheticFile string
	OutputFile    string
	Categorical   []string
	Numerical     []string
	SkipPrivacy   bool
}

func NewEvaluateCmd(g *Globals) *cobra.Command {
	opts := &EvaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a synthetic table against the real table",
		Long: `Compute the statistical similarity and distance-based privacy metrics of
a synthetic table against the real table it was trained on. Column kinds
are inferred from the real table.`,
		Example: `  tabsynth evaluate --real people.csv --synthetic synthetic.csv
  tabsynth evaluate --real people.csv --synthetic synthetic.csv --output report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.RealFile, "real", "", "Real table (required)")
	cmd.Flags().StringVar(&opts.SyntheticFile, "synthetic", "", "Synthetic table (required)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringSliceVar(&opts.Categorical, "categorical", nil, "Columns forced categorical")
	cmd.Flags().StringSliceVar(&opts.Numerical, "numerical", nil, "Columns forced numerical")
	cmd.Flags().BoolVar(&opts.SkipPrivacy, "skip-privacy", false, "Only compute quality metrics")

	cmd.MarkFlagRequired("real")
	cmd.MarkFlagRequired("synthetic")

	return cmd
}

func runEvaluate(cmd *cobra.Command, g *Globals, opts *EvaluateOptions) error {
	ctx := cmd.Context()
	logger := g.logger(cmd)
	cfg := g.cliConfig()

	realTable, err := tableio.ReadTable(ctx, opts.RealFile)
	if err != nil {
		return err
	}
	synthetic, err := tableio.ReadTable(ctx, opts.SyntheticFile)
	if err != nil {
		return err
	}

	specs, err := encoding.NewProfiler(cfg.Profiler, logger).Infer(realTable, opts.Categorical, opts.Numerical)
	if err != nil {
		return err
	}

	report := &models.EvaluationReport{}
	report.Quality, err = evaluation.NewQualityEvaluator(cfg.Evaluation, logger).Evaluate(realTable, synthetic, specs)
	if err != nil {
		return err
	}
	if !opts.SkipPrivacy {
		report.Privacy, err = evaluation.NewPrivacyEvaluator(cfg.Evaluation, logger).Evaluate(ctx, realTable, synthetic, specs)
		if err != nil {
			return err
		}
	}

	if opts.OutputFile != "" {
		return tableio.WriteReportFile(opts.OutputFile, report)
	}
	return writeJSON(cmd.OutOrStdout(), report)
}

package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/tableio"
	"github.com/inferloop/tabsynth/pkg/models"
)

type ProfileOptions struct {
	InputFile   string
	Categorical []string
	Numerical   []string
	Format      string
}

func NewProfileCmd(g *Globals) *cobra.Command {
	opts := &ProfileOptions{}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print the inferred column specs of a table",
		Example: `  tabsynth profile --input people.csv
  tabsynth profile --input people.csv --categorical zip --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input table (required)")
	cmd.Flags().StringSliceVar(&opts.Categorical, "categorical", nil, "Columns forced categorical")
	cmd.Flags().StringSliceVar(&opts.Numerical, "numerical", nil, "Columns forced numerical")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "Output format (text, json)")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runProfile(cmd *cobra.Command, g *Globals, opts *ProfileOptions) error {
	table, err := tableio.ReadTable(cmd.Context(), opts.InputFile)
	if err != nil {
		return err
	}
	specs, err := encoding.NewProfiler(g.cliConfig().Profiler, g.logger(cmd)).Infer(table, opts.Categorical, opts.Numerical)
	if err != nil {
		return err
	}

	switch opts.Format {
	case "json":
		return writeJSON(cmd.OutOrStdout(), specs)
	case "text":
		return printSpecs(cmd, table.NumRows(), specs)
	default:
		return fmt.Errorf("unsupported format %q", opts.Format)
	}
}

func printSpecs(cmd *cobra.Command, rows int, specs []models.ColumnSpec) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rows: %d\n\n", rows)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tKIND\tTYPE\tDOMAIN")
	for _, s := range specs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Kind, s.Type, describeDomain(s))
	}
	return w.Flush()
}

func describeDomain(s models.ColumnSpec) string {
	switch {
	case s.Categorical != nil:
		return fmt.Sprintf("%d categories", len(s.Categorical.Categories))
	case s.Numeric != nil:
		d := s.Numeric
		kind := "continuous"
		if d.Integer {
			kind = "integer"
		}
		return fmt.Sprintf("[%g, %g] %s %s", d.Min, d.Max, kind, d.Family)
	default:
		return ""
	}
}

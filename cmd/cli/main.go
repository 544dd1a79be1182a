package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inferloop/tabsynth/cmd/cli/commands"
	"github.com/inferloop/tabsynth/cmd/cli/config"
	"github.com/inferloop/tabsynth/pkg/constants"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	globals := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Privacy-preserving tabular synthetic data",
		Long: `A command-line interface for fitting copula, adversarial and variational
generators to tabular data, sampling synthetic tables and scoring them for
statistical similarity and privacy.`,
		Version:       constants.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(viper.New(), cfgFile)
			if err != nil {
				return err
			}
			globals.Config = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tabsynth/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewSynthesizeCmd(globals))
	rootCmd.AddCommand(commands.NewEvaluateCmd(globals))
	rootCmd.AddCommand(commands.NewProfileCmd(globals))
	rootCmd.AddCommand(commands.NewBenchmarkCmd(globals))

	return rootCmd
}

// Package cmd contains the command-line interface for the Quell alert
// correlation engine.
//
// This package provides CLI commands for running the engine and
// administrative tasks using the Cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "quell",
	Short: "Quell is an alert correlation and noise-reduction engine",
	Long: `Quell reduces alert noise by correlating related alerts into groups.

Key features:
  • Pluggable correlation strategies (temporal, spatial, semantic,
    metric-pattern, regex, similarity heuristic)
  • Confidence-scored grouping with automatic storm suppression
  • Best-effort snapshot persistence to Valkey/Redis
  • Prometheus metrics and structured logging

For more information, visit https://github.com/quellhq/quell`,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is provided, show help
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// init initialises the CLI configuration and adds global flags.
func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "Set log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $HOME/.quell.yaml)")
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

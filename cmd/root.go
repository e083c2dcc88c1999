// Package cmd contains the CLI commands, built with Cobra.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contribrank",
	Short: "Rank GitHub contributors by cross-organization activity",
	Long: `contribrank aggregates per-user contribution activity (pull requests,
commits, issues, reviews, comments) across one or more GitHub
organizations and produces a ranked report. Long runs are rate-governed
and resumable: interrupt at any time and re-run to continue.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
}

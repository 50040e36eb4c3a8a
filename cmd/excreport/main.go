// Package main provides the entry point for the excreport CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pattonfu/central-production-meeting/cmd/excreport/commands"
	"github.com/pattonfu/central-production-meeting/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "excreport",
		Short: "Weekly exception occurrence comparison report",
		Long: `Excreport builds the production-meeting exception report: it sources
per-day exception records, aggregates two rolling windows, diffs them
against the previous workday's baseline and exports a spreadsheet.

Commands:
  run       Fetch missing days and build the report
  report    Re-render the report from cached data only`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "excreport %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sluice",
		Short: "Sluice - Pipeline Run Configuration and Scheduling",
		Long: `Sluice resolves how pipeline executions are configured, retried and
scheduled.

Features:
  - Layered run configuration: defaults, YAML, env overlays, runtime overrides
  - Shell-style interpolation in YAML with JSON value coercion
  - Retry policies with named error kinds and jittered backoff
  - Declarative executor selection (synchronous, threadpool, processpool, ray, dask)
  - Persisted schedules with cron, interval, one-shot and calendar triggers`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "pipeline config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newWorkerCommand())

	return rootCmd
}

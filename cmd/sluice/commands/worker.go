package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/pipeline"
	"github.com/sluiceio/sluice/pkg/scheduler"
	"github.com/sluiceio/sluice/pkg/telemetry"
)

func newWorkerCommand() *cobra.Command {
	var (
		workerDB     string
		pollInterval time.Duration
		metricsAddr  string
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background schedule worker",
		Long: `Poll the schedule database and fire due schedules until interrupted.

Each firing re-resolves the pipeline's run configuration, so environment
and YAML changes take effect without a restart. With --watch, config file
edits are logged as they are picked up.`,
		Example: `  sluice worker --db sluice.db --config pipeline.yaml

  # Expose Prometheus metrics
  sluice worker --db sluice.db --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log, err := newRunLogger("")
			if err != nil {
				return err
			}

			metricsCfg := telemetry.DefaultConfig().Metrics
			if metricsAddr != "" {
				metricsCfg.Enabled = true
				metricsCfg.ListenAddress = metricsAddr
			}
			metrics, err := telemetry.NewMetrics(metricsCfg)
			if err != nil {
				return err
			}
			if err := metrics.StartMetricsServer(); err != nil {
				return err
			}

			store, err := scheduler.NewSQLiteStore(scheduler.StoreConfig{Path: workerDB})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()

			resolve := func(ctx context.Context, pipelineName string) (*config.Resolved, error) {
				res, warnings, err := resolveConfig(nil)
				if err != nil {
					return nil, err
				}
				printWarnings(log.WithPipeline(pipelineName), warnings)
				return res, nil
			}

			runner := pipeline.NewRunner(pipeline.NoopEngine{}, resolve, log, metrics)
			worker := scheduler.NewWorker(store, runner, pollInterval, log, metrics)

			if watch && configPath != "" {
				watcher, err := config.Watch(ctx, configPath, nil, log.Zerolog(),
					func(_ *config.RunPatch, warnings []config.MigrationWarning, err error) {
						if err != nil {
							log.WithError(err).Error("Config reload failed")
							return
						}
						printWarnings(log, warnings)
						log.Info("Config reloaded")
					})
				if err != nil {
					return err
				}
				defer watcher.Close()
			}

			worker.Start()
			<-ctx.Done()
			worker.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&workerDB, "db", "sluice.db", "schedule database path")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "due-schedule poll interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&watch, "watch", false, "log config file reloads")

	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sluiceio/sluice/pkg/pipeline"
	"github.com/sluiceio/sluice/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Execute a pipeline under the resolved run configuration",
		Long: `Resolve the run configuration for a pipeline and execute it.

Resolution order, highest precedence first:
  runtime flags > SLUICE_PIPELINE__RUN__* env > YAML config >
  SLUICE_PROJECT__* env > SLUICE_* env > built-in defaults`,
		Example: `  # Run with the config file's settings
  sluice run etl --config pipeline.yaml

  # Override the executor for this run only
  sluice run etl --config pipeline.yaml --executor threadpool --max-workers 8

  # Pass parameters (values are JSON-coerced)
  sluice run etl --param region=eu-west-1 --param batch=500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineName := args[0]

			override, err := flags.patch(cmd)
			if err != nil {
				return err
			}

			res, warnings, err := resolveConfig(override)
			if err != nil {
				return err
			}

			log, err := newRunLogger(res.LogLevel)
			if err != nil {
				return err
			}
			printWarnings(log, warnings)

			if verbose {
				for field, src := range res.Sources {
					log.Debugf("resolved %s from %s", field, src)
				}
			}

			metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(pipeline.NoopEngine{}, nil, log, metrics)
			values, err := runner.Run(cmd.Context(), pipelineName, res)
			if err != nil {
				return err
			}

			if len(values) > 0 {
				out, err := yaml.Marshal(values)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

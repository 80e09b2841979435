package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sluiceio/sluice/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var (
		showSources bool
		migrate     bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate and print the resolved run configuration",
		Long: `Resolve the run configuration without executing anything and print the
result. Validation failures (bad ranges, unknown executor types, unknown
retry exception kinds) exit non-zero.

With --migrate, a config still using the deprecated flat retry fields is
rewritten in place to the nested form.`,
		Example: `  # Check a config file
  sluice validate --config pipeline.yaml

  # Show where each field was resolved from
  sluice validate --config pipeline.yaml --sources

  # Rewrite deprecated flat retry fields
  sluice validate --config pipeline.yaml --migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, warnings, err := resolveConfig(nil)
			if err != nil {
				return err
			}

			log, err := newRunLogger(res.LogLevel)
			if err != nil {
				return err
			}
			printWarnings(log, warnings)

			out, err := yaml.Marshal(struct {
				Run config.RunConfig `yaml:"run"`
			}{Run: res.RunConfig})
			if err != nil {
				return err
			}
			fmt.Print(string(out))

			if showSources {
				fmt.Println("---")
				for field, src := range res.Sources {
					fmt.Printf("# %-24s %s\n", field, src)
				}
			}

			if migrate && len(warnings) > 0 && configPath != "" {
				if err := config.Save(configPath, res.RunConfig); err != nil {
					return err
				}
				log.Infof("Rewrote %s with the nested retry block", configPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSources, "sources", false, "print the resolution source of every field")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "rewrite deprecated flat retry fields in the config file")

	return cmd
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/retry"
	"github.com/sluiceio/sluice/pkg/telemetry"
)

// runFlags are the runtime override flags shared by run and validate. Only
// flags the user actually passed become part of the override patch, so flag
// defaults never shadow lower-precedence sources.
type runFlags struct {
	executor        string
	maxWorkers      int
	numCPUs         int
	maxRetries      int
	retryDelay      float64
	jitterFactor    float64
	retryExceptions []string
	params          []string
	finalVars       []string
	logLevel        string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.executor, "executor", "", "executor type, or an inline YAML/JSON executor object")
	cmd.Flags().IntVar(&f.maxWorkers, "max-workers", 0, "threadpool worker limit")
	cmd.Flags().IntVar(&f.numCPUs, "num-cpus", 0, "process pool size")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "retry budget per run")
	cmd.Flags().Float64Var(&f.retryDelay, "retry-delay", 0, "base retry delay in seconds")
	cmd.Flags().Float64Var(&f.jitterFactor, "jitter-factor", 0, "retry jitter factor in [0,1]")
	cmd.Flags().StringSliceVar(&f.retryExceptions, "retry-exception", nil, "retryable error kind (repeatable)")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "pipeline parameter as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&f.finalVars, "final-var", nil, "pipeline output variable (repeatable)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level for this run")
}

// patch builds the runtime override from the flags that were set.
func (f *runFlags) patch(cmd *cobra.Command) (*config.RunPatch, error) {
	var p config.RunPatch
	flags := cmd.Flags()

	var ex config.ExecutorPatch
	if flags.Changed("executor") {
		parsed, err := parseExecutorFlag(f.executor)
		if err != nil {
			return nil, err
		}
		ex = parsed
	}
	if flags.Changed("max-workers") {
		ex.MaxWorkers = config.Some(f.maxWorkers)
	}
	if flags.Changed("num-cpus") {
		ex.NumCPUs = config.Some(f.numCPUs)
	}
	if !ex.IsZero() {
		p.Executor = config.Some(ex)
	}

	var rt config.RetryPatch
	if flags.Changed("max-retries") {
		rt.MaxRetries = config.Some(f.maxRetries)
	}
	if flags.Changed("retry-delay") {
		rt.RetryDelay = config.Some(f.retryDelay)
	}
	if flags.Changed("jitter-factor") {
		jf := f.jitterFactor
		rt.JitterFactor = config.Some(&jf)
	}
	if flags.Changed("retry-exception") {
		rt.RetryExceptions = config.Some(f.retryExceptions)
	}
	if !rt.IsZero() {
		p.Retry = config.Some(rt)
	}

	if flags.Changed("param") {
		params, err := parseParams(f.params)
		if err != nil {
			return nil, err
		}
		p.Params = config.Some(params)
	}
	if flags.Changed("final-var") {
		p.FinalVars = config.Some(f.finalVars)
	}
	if flags.Changed("log-level") {
		p.LogLevel = config.Some(f.logLevel)
	}
	return &p, nil
}

// parseExecutorFlag accepts a bare type name or an inline mapping like
// '{type: threadpool, max_workers: 8}'.
func parseExecutorFlag(raw string) (config.ExecutorPatch, error) {
	var p config.ExecutorPatch
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		if err := yaml.Unmarshal([]byte(raw), &p); err != nil {
			return p, fmt.Errorf("invalid --executor value %q: %w", raw, err)
		}
		return p, nil
	}
	p.Type = config.Some(config.ExecutorType(raw))
	return p, nil
}

// parseParams turns repeated key=value flags into a params map. Values are
// coerced JSON-first, matching interpolation and env handling.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		key, raw := pair[:eq], pair[eq+1:]

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

// resolveConfig runs the full resolution ladder: config file (when given),
// environment overlays and the runtime override patch.
func resolveConfig(override *config.RunPatch) (*config.Resolved, []config.MigrationWarning, error) {
	var yamlPatch *config.RunPatch
	var warnings []config.MigrationWarning

	if configPath != "" {
		var err error
		yamlPatch, warnings, err = config.Load(configPath, nil)
		if err != nil {
			return nil, nil, err
		}
	}

	overlay := config.ParseEnviron(os.Environ())
	reg := retry.NewRegistry()

	res, err := config.Resolve(config.Defaults(), yamlPatch, overlay, override, reg)
	if err != nil {
		return nil, warnings, err
	}
	return res, warnings, nil
}

// newRunLogger builds the command logger at the resolved log level.
func newRunLogger(level string) (*telemetry.Logger, error) {
	cfg := telemetry.DefaultConfig().Logging
	if level != "" {
		cfg.Level = level
	}
	if verbose {
		cfg.Level = "debug"
	}
	return telemetry.NewLogger(cfg)
}

func printWarnings(log *telemetry.Logger, warnings []config.MigrationWarning) {
	for _, w := range warnings {
		log.Warn(w.String())
	}
}

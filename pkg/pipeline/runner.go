// Package pipeline orchestrates one pipeline execution: it builds the
// executor handle from the resolved config, wraps the engine call in the
// retry policy, and reports the outcome.
package pipeline

import (
	"context"
	"time"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/executor"
	"github.com/sluiceio/sluice/pkg/retry"
	"github.com/sluiceio/sluice/pkg/scheduler"
	"github.com/sluiceio/sluice/pkg/telemetry"
)

// Engine is the external DAG engine collaborator. It receives the dispatch
// handle and the resolved run inputs and returns the pipeline's output
// values. Error classification is the retry registry's concern, not the
// engine's.
type Engine interface {
	Execute(ctx context.Context, pipeline string, handle executor.Handle, finalVars []string, params map[string]any) (map[string]any, error)
}

// ResolveFunc produces the resolved run config for a pipeline. The worker
// path uses it to re-resolve per firing, so env and YAML edits take effect
// without restarting.
type ResolveFunc func(ctx context.Context, pipeline string) (*config.Resolved, error)

// Runner executes pipelines against an Engine under a resolved config.
type Runner struct {
	engine  Engine
	resolve ResolveFunc
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewRunner creates a runner. resolve may be nil when the runner is only
// used through Run with pre-resolved configs.
func NewRunner(engine Engine, resolve ResolveFunc, logger *telemetry.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		engine:  engine,
		resolve: resolve,
		logger:  logger.NewComponentLogger("runner"),
		metrics: metrics,
	}
}

// Run executes one pipeline under res. Each attempt gets its own executor
// handle scoped to that attempt; the engine invocation is retried per the
// resolved retry settings, and a run whose error kind is not configured for
// retry fails immediately.
func (r *Runner) Run(ctx context.Context, pipeline string, res *config.Resolved) (map[string]any, error) {
	log := r.logger.WithPipeline(pipeline)
	timer := telemetry.NewTimer()
	if r.metrics != nil {
		r.metrics.RecordRunStarted(pipeline)
	}

	values, err := r.runOnce(ctx, pipeline, res, log)

	status := "success"
	if err != nil {
		status = "error"
		log.WithError(err).Error("Pipeline run failed")
	} else {
		log.Info("Pipeline run succeeded")
	}
	if r.metrics != nil {
		r.metrics.RecordRunCompleted(pipeline, status, timer.Duration())
	}
	return values, err
}

func (r *Runner) runOnce(ctx context.Context, pipeline string, res *config.Resolved, log *telemetry.Logger) (map[string]any, error) {
	// Executor config problems are terminal; surface them before the first
	// attempt instead of spending the retry budget on them.
	probe, err := executor.Build(ctx, res.Executor)
	if err != nil {
		return nil, err
	}
	if err := probe.Close(); err != nil {
		return nil, err
	}

	policy := retry.NewPolicy(retry.Settings{
		MaxRetries: res.Retry.MaxRetries,
		Delay:      time.Duration(res.Retry.RetryDelay * float64(time.Second)),
		Jitter:     res.Retry.JitterFactor,
		Matchers:   res.Matchers,
		OnRetry: func(attempt int, wait time.Duration) {
			log.Warnf("Retrying after failure (attempt %d, waiting %s)", attempt, wait)
			if r.metrics != nil {
				r.metrics.RecordRetry(pipeline, wait)
			}
		},
	})

	// A handle is not reusable after Wait or Close, so every attempt gets a
	// fresh one.
	return retry.Do(ctx, policy, func() (map[string]any, error) {
		handle, err := executor.Build(ctx, res.Executor)
		if err != nil {
			return nil, err
		}
		defer handle.Close()
		return r.engine.Execute(ctx, pipeline, handle, res.FinalVars, res.Params)
	})
}

// RunSchedule fires one scheduled execution: the schedule's pipeline config
// is resolved fresh, the schedule's executor override is merged over it, and
// the run proceeds as usual. Satisfies scheduler.JobRunner.
func (r *Runner) RunSchedule(ctx context.Context, sched *scheduler.Schedule) error {
	res, err := r.resolve(ctx, sched.PipelineName)
	if err != nil {
		return err
	}

	if sched.ExecutorOverride != nil {
		merged, _, err := executor.MergeOverride(res.Executor, sched.ExecutorOverride)
		if err != nil {
			return err
		}
		res.Executor = merged
	}

	_, err = r.Run(ctx, sched.PipelineName, res)
	return err
}

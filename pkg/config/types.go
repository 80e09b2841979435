package config

import (
	"runtime"
)

// ExecutorType identifies the kind of executor a run is dispatched to.
// The empty string means "not specified" and resolves like synchronous.
type ExecutorType string

const (
	ExecutorSynchronous ExecutorType = "synchronous"
	ExecutorThreadPool  ExecutorType = "threadpool"
	ExecutorProcessPool ExecutorType = "processpool"
	ExecutorRay         ExecutorType = "ray"
	ExecutorDask        ExecutorType = "dask"
)

// ExecutorTypes lists every accepted executor type, for error messages.
var ExecutorTypes = []string{
	string(ExecutorSynchronous),
	string(ExecutorThreadPool),
	string(ExecutorProcessPool),
	string(ExecutorRay),
	string(ExecutorDask),
}

// Valid reports whether t names a known executor type. Empty is valid and
// treated as synchronous at build time.
func (t ExecutorType) Valid() bool {
	switch t {
	case "", ExecutorSynchronous, ExecutorThreadPool, ExecutorProcessPool, ExecutorRay, ExecutorDask:
		return true
	}
	return false
}

// ExecutorConfig describes the executor a resolved run will use.
type ExecutorConfig struct {
	Type       ExecutorType `yaml:"type"`
	MaxWorkers int          `yaml:"max_workers" validate:"gte=0"`
	NumCPUs    int          `yaml:"num_cpus" validate:"gte=0"`
}

// RetryConfig describes the retry behaviour for one run. RetryDelay is in
// seconds. A nil JitterFactor disables jitter; otherwise it must lie in
// [0, 1]. RetryExceptions names error kinds from the retry registry; empty
// means catch-all.
type RetryConfig struct {
	MaxRetries      int      `yaml:"max_retries" validate:"gte=0"`
	RetryDelay      float64  `yaml:"retry_delay" validate:"gte=0"`
	JitterFactor    *float64 `yaml:"jitter_factor,omitempty" validate:"omitempty,gte=0,lte=1"`
	RetryExceptions []string `yaml:"retry_exceptions,omitempty"`
}

// RunConfig is the fully resolved configuration for one pipeline execution.
// It is built fresh by Resolve and immutable afterwards; callers borrow it
// for the duration of a single run.
type RunConfig struct {
	Executor  ExecutorConfig `yaml:"executor"`
	Retry     RetryConfig    `yaml:"retry"`
	FinalVars []string       `yaml:"final_vars,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`
	LogLevel  string         `yaml:"log_level,omitempty"`
}

// Defaults returns the code-default RunConfig, the lowest-precedence source.
func Defaults() RunConfig {
	ncpu := runtime.NumCPU()
	return RunConfig{
		Executor: ExecutorConfig{
			Type:       ExecutorSynchronous,
			MaxWorkers: ncpu * 5,
			NumCPUs:    ncpu,
		},
		Retry: RetryConfig{
			MaxRetries:      0,
			RetryDelay:      0,
			RetryExceptions: nil, // catch-all
		},
		LogLevel: "info",
	}
}

// ExecutorPatch is a presence-tracked partial ExecutorConfig.
type ExecutorPatch struct {
	Type       Option[ExecutorType] `yaml:"type,omitempty"`
	MaxWorkers Option[int]          `yaml:"max_workers,omitempty"`
	NumCPUs    Option[int]          `yaml:"num_cpus,omitempty"`
}

// IsZero reports whether no field of the patch is set.
func (p ExecutorPatch) IsZero() bool {
	return !p.Type.IsSet() && !p.MaxWorkers.IsSet() && !p.NumCPUs.IsSet()
}

// RetryPatch is a presence-tracked partial RetryConfig.
type RetryPatch struct {
	MaxRetries      Option[int]      `yaml:"max_retries,omitempty"`
	RetryDelay      Option[float64]  `yaml:"retry_delay,omitempty"`
	JitterFactor    Option[*float64] `yaml:"jitter_factor,omitempty"`
	RetryExceptions Option[[]string] `yaml:"retry_exceptions,omitempty"`
}

// IsZero reports whether no field of the patch is set.
func (p RetryPatch) IsZero() bool {
	return !p.MaxRetries.IsSet() && !p.RetryDelay.IsSet() &&
		!p.JitterFactor.IsSet() && !p.RetryExceptions.IsSet()
}

// RunPatch is a presence-tracked partial RunConfig. It is the shape of every
// override source: the YAML document, each env overlay scope, and runtime
// overrides supplied by the CLI/API.
type RunPatch struct {
	Executor  Option[ExecutorPatch]  `yaml:"executor,omitempty"`
	Retry     Option[RetryPatch]     `yaml:"retry,omitempty"`
	FinalVars Option[[]string]       `yaml:"final_vars,omitempty"`
	Params    Option[map[string]any] `yaml:"params,omitempty"`
	LogLevel  Option[string]         `yaml:"log_level,omitempty"`
}

// Source tags where a resolved field's value came from.
type Source string

const (
	SourceRuntime     Source = "runtime"
	SourceEnvPipeline Source = "env:pipeline"
	SourceYAML        Source = "yaml"
	SourceEnvProject  Source = "env:project"
	SourceEnvGlobal   Source = "env:global"
	SourceDefault     Source = "default"
)

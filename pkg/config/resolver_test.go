package config

import (
	"errors"
	"testing"

	"github.com/sluiceio/sluice/pkg/retry"
)

func execPatch(fn func(*ExecutorPatch)) *RunPatch {
	var ex ExecutorPatch
	fn(&ex)
	return &RunPatch{Executor: Some(ex)}
}

func TestResolve_PrecedenceLadder(t *testing.T) {
	defaults := Defaults()

	yamlPatch := execPatch(func(ex *ExecutorPatch) { ex.MaxWorkers = Some(10) })
	overlay := Overlay{
		Global:   *execPatch(func(ex *ExecutorPatch) { ex.MaxWorkers = Some(20) }),
		Project:  *execPatch(func(ex *ExecutorPatch) { ex.MaxWorkers = Some(30) }),
		Pipeline: *execPatch(func(ex *ExecutorPatch) { ex.MaxWorkers = Some(40) }),
	}
	override := execPatch(func(ex *ExecutorPatch) { ex.MaxWorkers = Some(50) })

	tests := []struct {
		name     string
		yaml     *RunPatch
		overlay  Overlay
		override *RunPatch
		want     int
		wantSrc  Source
	}{
		{"runtime wins over all", yamlPatch, overlay, override, 50, SourceRuntime},
		{"pipeline env beats yaml", yamlPatch, overlay, nil, 40, SourceEnvPipeline},
		{"yaml beats project env", yamlPatch, Overlay{Global: overlay.Global, Project: overlay.Project}, nil, 10, SourceYAML},
		{"project env beats global", nil, Overlay{Global: overlay.Global, Project: overlay.Project}, nil, 30, SourceEnvProject},
		{"global env beats default", nil, Overlay{Global: overlay.Global}, nil, 20, SourceEnvGlobal},
		{"default when nothing set", nil, Overlay{}, nil, defaults.Executor.MaxWorkers, SourceDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(defaults, tt.yaml, tt.overlay, tt.override, retry.NewRegistry())
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if res.Executor.MaxWorkers != tt.want {
				t.Errorf("expected max_workers %d, got %d", tt.want, res.Executor.MaxWorkers)
			}
			if src := res.SourceOf("executor.max_workers"); src != tt.wantSrc {
				t.Errorf("expected source %s, got %s", tt.wantSrc, src)
			}
		})
	}
}

func TestResolve_PresenceNotEquality(t *testing.T) {
	// An override equal to the default must still be tagged as coming from
	// the override source.
	defaults := Defaults()
	override := execPatch(func(ex *ExecutorPatch) { ex.MaxWorkers = Some(defaults.Executor.MaxWorkers) })

	res, err := Resolve(defaults, nil, Overlay{}, override, retry.NewRegistry())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if src := res.SourceOf("executor.max_workers"); src != SourceRuntime {
		t.Errorf("expected runtime source for equal-to-default override, got %s", src)
	}
}

func TestResolve_ExplicitNullJitter(t *testing.T) {
	jf := 0.5
	yamlPatch := &RunPatch{Retry: Some(RetryPatch{JitterFactor: Some(&jf)})}
	override := &RunPatch{Retry: Some(RetryPatch{JitterFactor: Some[*float64](nil)})}

	res, err := Resolve(Defaults(), yamlPatch, Overlay{}, override, retry.NewRegistry())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Retry.JitterFactor != nil {
		t.Errorf("expected explicit null to clear jitter, got %v", *res.Retry.JitterFactor)
	}
	if src := res.SourceOf("retry.jitter_factor"); src != SourceRuntime {
		t.Errorf("expected runtime source, got %s", src)
	}
}

func TestResolve_ValidationFailures(t *testing.T) {
	tests := []struct {
		name      string
		patch     *RunPatch
		wantField string
	}{
		{
			"unknown executor type",
			execPatch(func(ex *ExecutorPatch) { ex.Type = Some(ExecutorType("warp")) }),
			"executor.type",
		},
		{
			"negative max retries",
			&RunPatch{Retry: Some(RetryPatch{MaxRetries: Some(-1)})},
			"retry.max_retries",
		},
		{
			"negative retry delay",
			&RunPatch{Retry: Some(RetryPatch{RetryDelay: Some(-0.5)})},
			"retry.retry_delay",
		},
		{
			"unknown retry exception",
			&RunPatch{Retry: Some(RetryPatch{RetryExceptions: Some([]string{"nope"})})},
			"retry.retry_exceptions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(Defaults(), tt.patch, Overlay{}, nil, retry.NewRegistry())
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("expected field %s, got %s", tt.wantField, verr.Field)
			}
		})
	}
}

func TestResolve_MatchersAttached(t *testing.T) {
	patch := &RunPatch{Retry: Some(RetryPatch{RetryExceptions: Some([]string{"timeout"})})}

	res, err := Resolve(Defaults(), patch, Overlay{}, nil, retry.NewRegistry())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Matchers) != 1 || res.Matchers[0].Name != "timeout" {
		t.Errorf("expected [timeout] matcher, got %v", res.Matchers)
	}
}

func TestResolve_EmptyExceptionsIsCatchAll(t *testing.T) {
	res, err := Resolve(Defaults(), nil, Overlay{}, nil, retry.NewRegistry())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Matchers) != 1 || res.Matchers[0].Name != "any" {
		t.Errorf("expected catch-all matcher, got %v", res.Matchers)
	}
}

func TestResolve_DetachesOwnership(t *testing.T) {
	vars := []string{"a"}
	patch := &RunPatch{FinalVars: Some(vars)}

	res, err := Resolve(Defaults(), patch, Overlay{}, nil, retry.NewRegistry())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	vars[0] = "mutated"
	if res.FinalVars[0] != "a" {
		t.Error("resolved config aliases the source slice")
	}
}

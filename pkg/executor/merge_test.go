package executor

import (
	"errors"
	"testing"

	"github.com/sluiceio/sluice/pkg/config"
)

func baseConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		Type:       config.ExecutorSynchronous,
		MaxWorkers: 10,
		NumCPUs:    4,
	}
}

func TestMergeOverride_Nil(t *testing.T) {
	merged, sources, err := MergeOverride(baseConfig(), nil)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged != baseConfig() {
		t.Errorf("expected base config unchanged, got %+v", merged)
	}
	for field, src := range sources {
		if src != FromBase {
			t.Errorf("field %s: expected base source, got %s", field, src)
		}
	}
}

func TestMergeOverride_String(t *testing.T) {
	merged, sources, err := MergeOverride(baseConfig(), "threadpool")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.Type != config.ExecutorThreadPool {
		t.Errorf("expected threadpool, got %s", merged.Type)
	}
	if sources["type"] != FromOverride {
		t.Errorf("expected override source for type, got %s", sources["type"])
	}
	if merged.MaxWorkers != 10 || sources["max_workers"] != FromBase {
		t.Error("expected untouched fields to keep base values and source")
	}
}

func TestMergeOverride_Patch(t *testing.T) {
	patch := config.ExecutorPatch{
		Type:       config.Some(config.ExecutorDask),
		MaxWorkers: config.Some(2),
	}

	merged, sources, err := MergeOverride(baseConfig(), patch)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.Type != config.ExecutorDask {
		t.Errorf("expected dask, got %s", merged.Type)
	}
	if merged.MaxWorkers != 2 {
		t.Errorf("expected 2, got %d", merged.MaxWorkers)
	}
	if merged.NumCPUs != 4 {
		t.Errorf("expected base num_cpus 4, got %d", merged.NumCPUs)
	}
	if sources["num_cpus"] != FromBase {
		t.Errorf("expected base source for num_cpus, got %s", sources["num_cpus"])
	}
}

func TestMergeOverride_Map(t *testing.T) {
	merged, sources, err := MergeOverride(baseConfig(), map[string]any{
		"type":        "ray",
		"max_workers": 3,
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.Type != config.ExecutorRay || merged.MaxWorkers != 3 {
		t.Errorf("unexpected merge result %+v", merged)
	}
	if sources["type"] != FromOverride || sources["max_workers"] != FromOverride {
		t.Errorf("expected override sources, got %v", sources)
	}
}

func TestMergeOverride_ExplicitNullClears(t *testing.T) {
	merged, sources, err := MergeOverride(baseConfig(), map[string]any{"type": nil})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.Type != "" {
		t.Errorf("expected explicit null to clear type, got %q", merged.Type)
	}
	if sources["type"] != FromOverride {
		t.Errorf("expected override source for cleared field, got %s", sources["type"])
	}
}

func TestMergeOverride_EqualValueStillOverride(t *testing.T) {
	base := baseConfig()
	merged, sources, err := MergeOverride(base, map[string]any{"max_workers": base.MaxWorkers})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.MaxWorkers != base.MaxWorkers {
		t.Errorf("expected unchanged value, got %d", merged.MaxWorkers)
	}
	if sources["max_workers"] != FromOverride {
		t.Error("override equal to base must still be tagged as override")
	}
}

func TestMergeOverride_Errors(t *testing.T) {
	tests := []struct {
		name     string
		override any
	}{
		{"unknown field", map[string]any{"workerz": 1}},
		{"unknown type", "warp"},
		{"wrong value type", map[string]any{"max_workers": "many"}},
		{"fractional workers", map[string]any{"max_workers": 2.5}},
		{"negative workers", map[string]any{"max_workers": -3}},
		{"negative cpus", map[string]any{"num_cpus": -1}},
		{"unsupported shape", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := MergeOverride(baseConfig(), tt.override)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var rerr *ResolutionError
			if !errors.As(err, &rerr) {
				t.Errorf("expected ResolutionError, got %T", err)
			}
		})
	}
}

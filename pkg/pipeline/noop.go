package pipeline

import (
	"context"

	"github.com/sluiceio/sluice/pkg/executor"
)

// NoopEngine is the stand-in engine used when no DAG engine is linked in. It
// pushes one task through the dispatch handle, so executor resolution and
// retry behaviour are exercised end to end, and echoes the requested final
// vars from params.
type NoopEngine struct{}

// Execute implements Engine.
func (NoopEngine) Execute(ctx context.Context, pipeline string, handle executor.Handle, finalVars []string, params map[string]any) (map[string]any, error) {
	handle.Go(func(ctx context.Context) error {
		return ctx.Err()
	})
	if err := handle.Wait(); err != nil {
		return nil, err
	}

	values := make(map[string]any, len(finalVars))
	for _, name := range finalVars {
		if v, ok := params[name]; ok {
			values[name] = v
		}
	}
	return values, nil
}

package executor

import (
	"context"

	"github.com/sluiceio/sluice/pkg/config"
)

// Build turns a resolved executor config into a live handle. The empty type
// resolves like synchronous. Threadpool handles are sized by MaxWorkers;
// processpool, ray and dask by NumCPUs. An unknown type is a
// ResolutionError listing the accepted values.
func Build(ctx context.Context, cfg config.ExecutorConfig) (Handle, error) {
	switch cfg.Type {
	case "", config.ExecutorSynchronous:
		return newSyncHandle(ctx), nil
	case config.ExecutorThreadPool:
		return newPoolHandle(ctx, config.ExecutorThreadPool, cfg.MaxWorkers), nil
	case config.ExecutorProcessPool, config.ExecutorRay, config.ExecutorDask:
		return newPoolHandle(ctx, cfg.Type, cfg.NumCPUs), nil
	default:
		return nil, &ResolutionError{
			Field:   "type",
			Value:   string(cfg.Type),
			Allowed: config.ExecutorTypes,
			Message: "unknown executor type",
		}
	}
}

// Package executor maps a declarative executor configuration onto a concrete
// dispatch handle and implements the override merge applied by schedules and
// the CLI.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sluiceio/sluice/pkg/config"
)

// Task is one unit of work submitted to a handle.
type Task func(ctx context.Context) error

// Handle is a live dispatch target for pipeline work. Go submits a task,
// Wait blocks until all submitted tasks finish and returns the first error,
// Close releases the handle. A handle is used by a single run and is not
// reusable after Wait or Close.
type Handle interface {
	// Kind reports the executor type the handle was built for.
	Kind() config.ExecutorType

	// Workers reports the concurrency limit, 1 for synchronous handles.
	Workers() int

	Go(task Task)
	Wait() error
	Close() error
}

// syncHandle runs every task inline at submission time. After the first
// failure, remaining submissions are skipped.
type syncHandle struct {
	ctx context.Context

	mu  sync.Mutex
	err error
}

func newSyncHandle(ctx context.Context) *syncHandle {
	return &syncHandle{ctx: ctx}
}

func (h *syncHandle) Kind() config.ExecutorType { return config.ExecutorSynchronous }
func (h *syncHandle) Workers() int              { return 1 }

func (h *syncHandle) Go(task Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return
	}
	h.err = task(h.ctx)
}

func (h *syncHandle) Wait() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *syncHandle) Close() error { return nil }

// poolHandle dispatches tasks to a bounded group of goroutines. The process
// side of processpool, ray and dask dispatch belongs to the engine; the
// handle carries the kind and the size the engine should honor.
type poolHandle struct {
	kind    config.ExecutorType
	workers int

	group *errgroup.Group
	ctx   context.Context
}

func newPoolHandle(ctx context.Context, kind config.ExecutorType, workers int) *poolHandle {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return &poolHandle{kind: kind, workers: workers, group: g, ctx: gctx}
}

func (h *poolHandle) Kind() config.ExecutorType { return h.kind }
func (h *poolHandle) Workers() int              { return h.workers }

func (h *poolHandle) Go(task Task) {
	h.group.Go(func() error {
		return task(h.ctx)
	})
}

func (h *poolHandle) Wait() error {
	return h.group.Wait()
}

func (h *poolHandle) Close() error {
	return h.group.Wait()
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/executor"
	"github.com/sluiceio/sluice/pkg/retry"
	"github.com/sluiceio/sluice/pkg/scheduler"
	"github.com/sluiceio/sluice/pkg/telemetry"
)

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()

	log, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

// mockEngine records executions and fails until the remaining failure budget
// is spent.
type mockEngine struct {
	mu           sync.Mutex
	calls        int
	failuresLeft int
	err          error
	lastKind     config.ExecutorType
	lastWorkers  int
	lastVars     []string
	lastParams   map[string]any
}

func (m *mockEngine) Execute(ctx context.Context, pipeline string, handle executor.Handle, finalVars []string, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastKind = handle.Kind()
	m.lastWorkers = handle.Workers()
	m.lastVars = finalVars
	m.lastParams = params

	if m.failuresLeft > 0 {
		m.failuresLeft--
		return nil, m.err
	}
	return map[string]any{"result": "ok"}, nil
}

func (m *mockEngine) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testResolved(t *testing.T, retries int, exceptions ...string) *config.Resolved {
	t.Helper()

	reg := retry.NewRegistry()
	matchers, err := retry.ResolveNames(exceptions, reg)
	if err != nil {
		t.Fatal(err)
	}
	return &config.Resolved{
		RunConfig: config.RunConfig{
			Executor: config.ExecutorConfig{Type: config.ExecutorSynchronous},
			Retry: config.RetryConfig{
				MaxRetries: retries,
				RetryDelay: 0.001,
			},
			FinalVars: []string{"result"},
			Params:    map[string]any{"result": 42},
		},
		Matchers: matchers,
	}
}

func TestRunner_Run(t *testing.T) {
	engine := &mockEngine{}
	runner := NewRunner(engine, nil, testLogger(t), nil)

	values, err := runner.Run(context.Background(), "etl-daily", testResolved(t, 0))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if values["result"] != "ok" {
		t.Errorf("expected engine values back, got %v", values)
	}
	if engine.lastKind != config.ExecutorSynchronous {
		t.Errorf("expected synchronous handle, got %s", engine.lastKind)
	}
	if len(engine.lastVars) != 1 || engine.lastVars[0] != "result" {
		t.Errorf("expected final vars passed through, got %v", engine.lastVars)
	}
	if engine.lastParams["result"] != 42 {
		t.Errorf("expected params passed through, got %v", engine.lastParams)
	}
}

func TestRunner_RetriesUntilSuccess(t *testing.T) {
	engine := &mockEngine{failuresLeft: 2, err: errors.New("flaky")}
	runner := NewRunner(engine, nil, testLogger(t), nil)

	values, err := runner.Run(context.Background(), "etl-daily", testResolved(t, 3))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if engine.callCount() != 3 {
		t.Errorf("expected 3 engine calls, got %d", engine.callCount())
	}
	if values["result"] != "ok" {
		t.Errorf("expected values from the successful attempt, got %v", values)
	}
}

// handleEngine submits its work through the dispatch handle, failing the
// first attempt and succeeding afterwards.
type handleEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *handleEngine) Execute(ctx context.Context, pipeline string, handle executor.Handle, finalVars []string, params map[string]any) (map[string]any, error) {
	e.mu.Lock()
	e.calls++
	attempt := e.calls
	e.mu.Unlock()

	handle.Go(func(ctx context.Context) error {
		if attempt == 1 {
			return errors.New("transient node failure")
		}
		return nil
	})
	if err := handle.Wait(); err != nil {
		return nil, err
	}
	return map[string]any{"result": "ok"}, nil
}

func TestRunner_FreshHandlePerAttempt(t *testing.T) {
	engine := &handleEngine{}
	runner := NewRunner(engine, nil, testLogger(t), nil)

	// A handle latches its first failure, so the retry only succeeds if each
	// attempt dispatches through a fresh handle.
	values, err := runner.Run(context.Background(), "etl-daily", testResolved(t, 3))
	if err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if values["result"] != "ok" {
		t.Errorf("expected values from the successful attempt, got %v", values)
	}

	engine.mu.Lock()
	calls := engine.calls
	engine.mu.Unlock()
	if calls != 2 {
		t.Errorf("expected 2 engine calls, got %d", calls)
	}
}

func TestRunner_ExhaustsRetries(t *testing.T) {
	boom := errors.New("always broken")
	engine := &mockEngine{failuresLeft: 10, err: boom}
	runner := NewRunner(engine, nil, testLogger(t), nil)

	_, err := runner.Run(context.Background(), "etl-daily", testResolved(t, 2))

	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T: %v", err, err)
	}
	if !errors.Is(err, boom) {
		t.Error("expected the last failure to be wrapped")
	}
	if engine.callCount() != 3 {
		t.Errorf("expected 3 engine calls, got %d", engine.callCount())
	}
}

func TestRunner_NonMatchedErrorFailsFast(t *testing.T) {
	boom := errors.New("not a timeout")
	engine := &mockEngine{failuresLeft: 10, err: boom}
	runner := NewRunner(engine, nil, testLogger(t), nil)

	// Only timeouts are retried; a plain failure is terminal.
	_, err := runner.Run(context.Background(), "etl-daily", testResolved(t, 5, "timeout"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if engine.callCount() != 1 {
		t.Errorf("expected 1 engine call, got %d", engine.callCount())
	}
}

func TestRunner_BadExecutorConfig(t *testing.T) {
	engine := &mockEngine{}
	runner := NewRunner(engine, nil, testLogger(t), nil)

	res := testResolved(t, 0)
	res.Executor.Type = "quantum"

	_, err := runner.Run(context.Background(), "etl-daily", res)
	var rerr *executor.ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if engine.callCount() != 0 {
		t.Error("engine must not run when the executor cannot be built")
	}
}

func TestRunner_RunSchedule(t *testing.T) {
	engine := &mockEngine{}
	resolve := func(ctx context.Context, pipeline string) (*config.Resolved, error) {
		res := testResolved(t, 0)
		res.Executor = config.ExecutorConfig{
			Type:       config.ExecutorSynchronous,
			MaxWorkers: 10,
			NumCPUs:    4,
		}
		return res, nil
	}
	runner := NewRunner(engine, resolve, testLogger(t), nil)

	sched := &scheduler.Schedule{
		ID:           "sched-1",
		PipelineName: "etl-daily",
		Trigger:      scheduler.NewOnceTrigger(time.Now().Add(time.Hour)),
		ExecutorOverride: &config.ExecutorPatch{
			Type:       config.Some(config.ExecutorThreadPool),
			MaxWorkers: config.Some(2),
		},
	}

	if err := runner.RunSchedule(context.Background(), sched); err != nil {
		t.Fatalf("run schedule failed: %v", err)
	}
	if engine.lastKind != config.ExecutorThreadPool {
		t.Errorf("expected override to select threadpool, got %s", engine.lastKind)
	}
	if engine.lastWorkers != 2 {
		t.Errorf("expected override worker count 2, got %d", engine.lastWorkers)
	}
}

func TestRunner_RunScheduleResolveError(t *testing.T) {
	boom := errors.New("no such pipeline")
	resolve := func(ctx context.Context, pipeline string) (*config.Resolved, error) {
		return nil, boom
	}
	runner := NewRunner(&mockEngine{}, resolve, testLogger(t), nil)

	sched := &scheduler.Schedule{ID: "sched-1", PipelineName: "ghost"}
	if err := runner.RunSchedule(context.Background(), sched); !errors.Is(err, boom) {
		t.Errorf("expected resolve error back, got %v", err)
	}
}

func TestNoopEngine_EchoesFinalVars(t *testing.T) {
	handle, err := executor.Build(context.Background(), config.ExecutorConfig{})
	if err != nil {
		t.Fatal(err)
	}

	values, err := NoopEngine{}.Execute(context.Background(), "etl-daily", handle,
		[]string{"a", "missing"}, map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(values) != 1 || values["a"] != 1 {
		t.Errorf("expected only requested params echoed, got %v", values)
	}
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sluiceio/sluice/pkg/telemetry"
)

// WorkerState is the lifecycle state of the background worker.
type WorkerState string

const (
	WorkerStopped WorkerState = "stopped"
	WorkerRunning WorkerState = "running"
)

// JobRunner executes one firing of a schedule. The pipeline runner satisfies
// this; tests plug in mocks.
type JobRunner interface {
	RunSchedule(ctx context.Context, sched *Schedule) error
}

// Worker polls the store for due schedules and fires them. Start and Stop
// are idempotent: calling either in the state it would produce is a no-op
// that returns the current state. Stop waits for in-flight jobs but starts
// no new ones.
type Worker struct {
	store    Store
	runner   JobRunner
	interval time.Duration
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics

	// now is injectable for tests.
	now func() time.Time

	mu     sync.Mutex
	state  WorkerState
	cancel context.CancelFunc
	loop   sync.WaitGroup
	jobs   sync.WaitGroup
}

// NewWorker creates a worker polling every interval; a non-positive interval
// defaults to one second.
func NewWorker(store Store, runner JobRunner, interval time.Duration, logger *telemetry.Logger, metrics *telemetry.Metrics) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		store:    store,
		runner:   runner,
		interval: interval,
		logger:   logger.NewComponentLogger("worker"),
		metrics:  metrics,
		now:      time.Now,
		state:    WorkerStopped,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start moves the worker to running and begins polling. Starting a running
// worker is a no-op.
func (w *Worker) Start() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WorkerRunning {
		return w.state
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.state = WorkerRunning

	w.loop.Add(1)
	go w.run(ctx)

	w.logger.Infof("Worker started, polling every %s", w.interval)
	return w.state
}

// Stop halts polling and waits for in-flight jobs to finish. Stopping a
// stopped worker is a no-op.
func (w *Worker) Stop() WorkerState {
	w.mu.Lock()
	if w.state == WorkerStopped {
		w.mu.Unlock()
		return WorkerStopped
	}
	w.cancel()
	w.state = WorkerStopped
	w.mu.Unlock()

	w.loop.Wait()
	w.jobs.Wait()

	w.logger.Info("Worker stopped")
	return WorkerStopped
}

func (w *Worker) run(ctx context.Context) {
	defer w.loop.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick takes one consistent snapshot of due schedules and fires each. A
// failing schedule never stops the loop or the rest of the snapshot.
func (w *Worker) tick(ctx context.Context) {
	timer := telemetry.NewTimer()
	now := w.now()

	due, err := w.store.ListDue(ctx, now)
	if err != nil {
		w.logger.WithError(err).Error("Failed to list due schedules")
		return
	}

	for _, sched := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.fire(ctx, sched, now)
	}

	if w.metrics != nil && w.metrics.Enabled() {
		if all, err := w.store.ListSchedules(ctx); err == nil {
			active := 0
			for _, sched := range all {
				if !sched.Paused {
					active++
				}
			}
			w.metrics.SetActiveSchedules(float64(active))
		}
		w.metrics.RecordPollTick(timer.Duration())
	}
}

// fire advances the schedule's next due time and launches one job for it.
// The reschedule happens before the run, so a slow job never causes the same
// due time to fire twice.
func (w *Worker) fire(ctx context.Context, sched *Schedule, now time.Time) {
	log := w.logger.WithScheduleID(sched.ID).WithPipeline(sched.PipelineName)

	if next, ok := sched.Trigger.Next(now); ok {
		if err := w.store.UpdateNextRun(ctx, sched.ID, &next); err != nil {
			log.WithError(err).Error("Failed to reschedule")
			return
		}
	} else {
		// Exhausted trigger (one-shot already fired): the schedule stays but
		// goes dormant.
		if err := w.store.UpdateNextRun(ctx, sched.ID, nil); err != nil {
			log.WithError(err).Error("Failed to clear next run")
			return
		}
	}

	job := &Job{
		ID:         uuid.New().String(),
		ScheduleID: sched.ID,
		Status:     JobRunning,
		RunTime:    now,
	}
	if err := w.store.CreateJob(ctx, job); err != nil {
		log.WithError(err).Error("Failed to create job")
		return
	}

	w.jobs.Add(1)
	go func() {
		defer w.jobs.Done()

		// Jobs run to completion even when the worker stops; only process
		// shutdown interrupts them.
		jobCtx := context.Background()
		w.execute(jobCtx, sched, job, log.WithJobID(job.ID))
	}()
}

func (w *Worker) execute(ctx context.Context, sched *Schedule, job *Job, log *telemetry.Logger) {
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = w.runner.RunSchedule(ctx, sched)
	}()

	if runErr != nil {
		log.WithError(runErr).Error("Job failed")
		msg := runErr.Error()
		if err := w.store.CompleteJob(ctx, job.ID, JobError, &msg); err != nil {
			log.WithError(err).Error("Failed to record job failure")
		}
		if w.metrics != nil {
			w.metrics.RecordJob("error")
		}
		return
	}

	log.Info("Job succeeded")
	if err := w.store.CompleteJob(ctx, job.ID, JobSuccess, nil); err != nil {
		log.WithError(err).Error("Failed to record job success")
	}
	if w.metrics != nil {
		w.metrics.RecordJob("success")
	}
}

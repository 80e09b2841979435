package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/telemetry"
)

// Scheduler owns the persisted schedule set. All mutations are serialized
// through one mutex and the store, so concurrent Add/Pause/Remove calls and
// a running worker never observe a half-applied change.
type Scheduler struct {
	store  Store
	logger *telemetry.Logger

	mu sync.Mutex
}

// NewScheduler creates a scheduler backed by store.
func NewScheduler(store Store, logger *telemetry.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: logger.NewComponentLogger("scheduler"),
	}
}

// Add registers a new schedule for a pipeline. The first due time comes from
// the trigger; a trigger that will never fire (a one-shot in the past) is
// rejected.
func (s *Scheduler) Add(ctx context.Context, pipelineName string, trigger Trigger, override *config.ExecutorPatch) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	next, ok := trigger.Next(now)
	if !ok {
		return nil, fmt.Errorf("trigger %s %q will never fire", trigger.Kind(), trigger.Spec())
	}

	sched := &Schedule{
		ID:               uuid.New().String(),
		PipelineName:     pipelineName,
		Trigger:          trigger,
		Paused:           false,
		ExecutorOverride: override,
		NextRun:          &next,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}

	s.logger.WithScheduleID(sched.ID).
		WithPipeline(pipelineName).
		Infof("Schedule added, first run at %s", next.Format(time.RFC3339))
	return sched, nil
}

// Get returns one schedule by id.
func (s *Scheduler) Get(ctx context.Context, id string) (*Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

// List returns all schedules.
func (s *Scheduler) List(ctx context.Context) ([]*Schedule, error) {
	return s.store.ListSchedules(ctx)
}

// Pause stops a schedule from firing without removing it. Unknown ids yield
// a StateError.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetPaused(ctx, id, true); err != nil {
		return err
	}
	s.logger.WithScheduleID(id).Info("Schedule paused")
	return nil
}

// Resume reactivates a paused schedule. The next due time is recomputed from
// now, so a long pause does not cause a burst of catch-up firings.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}

	if next, ok := sched.Trigger.Next(time.Now()); ok {
		if err := s.store.UpdateNextRun(ctx, id, &next); err != nil {
			return err
		}
	}
	if err := s.store.SetPaused(ctx, id, false); err != nil {
		return err
	}
	s.logger.WithScheduleID(id).Info("Schedule resumed")
	return nil
}

// Remove deletes a schedule and its job history. Unknown ids yield a
// StateError.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.logger.WithScheduleID(id).Info("Schedule removed")
	return nil
}

// Jobs lists job history, newest first. An empty scheduleID lists jobs for
// every schedule.
func (s *Scheduler) Jobs(ctx context.Context, scheduleID string, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListJobs(ctx, scheduleID, limit, offset)
}

package scheduler

import (
	"context"
	"time"
)

// Store persists schedules and jobs. Implementations must be safe for
// concurrent use; the scheduler serializes all mutations through it.
type Store interface {
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// SetPaused flips the paused flag; a paused schedule keeps its next_run_at
	// but is excluded from ListDue.
	SetPaused(ctx context.Context, id string, paused bool) error

	// UpdateNextRun records the next due time; nil marks an exhausted trigger.
	UpdateNextRun(ctx context.Context, id string, next *time.Time) error

	// ListDue returns the unpaused schedules whose next_run_at is at or before
	// now, as one consistent snapshot.
	ListDue(ctx context.Context, now time.Time) ([]*Schedule, error)

	CreateJob(ctx context.Context, job *Job) error

	// CompleteJob finalizes a running job with its outcome.
	CompleteJob(ctx context.Context, id string, status JobStatus, errMsg *string) error

	// ListJobs returns jobs for a schedule, newest first; an empty scheduleID
	// lists across all schedules.
	ListJobs(ctx context.Context, scheduleID string, limit, offset int) ([]*Job, error)

	Close() error
}

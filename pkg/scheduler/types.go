// Package scheduler owns persisted pipeline schedules and the jobs they
// spawn, plus the background worker that fires them.
package scheduler

import (
	"fmt"
	"time"

	"github.com/sluiceio/sluice/pkg/config"
)

// Schedule binds a pipeline to a trigger. A paused schedule stays in the
// store but is never picked up by the worker.
type Schedule struct {
	ID           string
	PipelineName string
	Trigger      Trigger
	Paused       bool

	// ExecutorOverride, when non-nil, is merged over the resolved run
	// config's executor for every job this schedule fires.
	ExecutorOverride *config.ExecutorPatch

	// NextRun is the next due time, nil for exhausted one-shot schedules.
	NextRun *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStatus is the lifecycle state of one fired job.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// Job records one firing of a schedule.
type Job struct {
	ID         string
	ScheduleID string
	Status     JobStatus
	RunTime    time.Time

	// Error holds the failure message for JobError jobs.
	Error *string

	CompletedAt *time.Time
}

// StateError reports a scheduler mutation against a schedule that does not
// exist or is in the wrong state for the operation.
type StateError struct {
	ScheduleID string
	Op         string
	Message    string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s schedule %s: %s", e.Op, e.ScheduleID, e.Message)
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/telemetry"
)

// testLogger returns a logger that only emits errors during tests.
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

func setupScheduler(t *testing.T) (*Scheduler, *SQLiteStore) {
	t.Helper()
	store := setupTestStore(t)
	return NewScheduler(store, testLogger(t)), store
}

func TestScheduler_Add(t *testing.T) {
	sched, _ := setupScheduler(t)
	ctx := context.Background()

	trigger, err := NewIntervalTrigger(time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	created, err := sched.Add(ctx, "etl-daily", trigger, nil)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated schedule id")
	}
	if created.NextRun == nil {
		t.Fatal("expected first due time to be set")
	}

	got, err := sched.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.PipelineName != "etl-daily" || got.Paused {
		t.Errorf("unexpected persisted schedule: %+v", got)
	}
}

func TestScheduler_AddNeverFiring(t *testing.T) {
	sched, _ := setupScheduler(t)

	// A one-shot in the past will never fire again.
	trigger := NewOnceTrigger(time.Now().Add(-time.Hour))
	if _, err := sched.Add(context.Background(), "etl-daily", trigger, nil); err == nil {
		t.Error("expected error for a trigger that will never fire")
	}
}

func TestScheduler_AddWithOverride(t *testing.T) {
	sched, _ := setupScheduler(t)
	ctx := context.Background()

	trigger, err := NewIntervalTrigger(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	override := &config.ExecutorPatch{Type: config.Some(config.ExecutorDask)}

	created, err := sched.Add(ctx, "etl-daily", trigger, override)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	got, err := sched.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExecutorOverride == nil {
		t.Fatal("expected override to persist")
	}
	if typ, ok := got.ExecutorOverride.Type.Get(); !ok || typ != config.ExecutorDask {
		t.Errorf("override type lost: %v %v", typ, ok)
	}
}

func TestScheduler_PauseResume(t *testing.T) {
	sched, _ := setupScheduler(t)
	ctx := context.Background()

	trigger, err := NewIntervalTrigger(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	created, err := sched.Add(ctx, "etl-daily", trigger, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := sched.Pause(ctx, created.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	got, _ := sched.Get(ctx, created.ID)
	if !got.Paused {
		t.Error("expected paused schedule")
	}

	before := time.Now()
	if err := sched.Resume(ctx, created.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	got, _ = sched.Get(ctx, created.ID)
	if got.Paused {
		t.Error("expected resumed schedule")
	}
	// Resume recomputes the due time from now instead of replaying the pause
	// window.
	if got.NextRun == nil || got.NextRun.Before(before) {
		t.Errorf("expected next run recomputed from now, got %v", got.NextRun)
	}
}

func TestScheduler_StateErrors(t *testing.T) {
	sched, _ := setupScheduler(t)
	ctx := context.Background()

	var serr *StateError
	if err := sched.Pause(ctx, "missing"); !errors.As(err, &serr) {
		t.Errorf("expected StateError from pause, got %v", err)
	}
	if err := sched.Resume(ctx, "missing"); !errors.As(err, &serr) {
		t.Errorf("expected StateError from resume, got %v", err)
	}
	if err := sched.Remove(ctx, "missing"); !errors.As(err, &serr) {
		t.Errorf("expected StateError from remove, got %v", err)
	}
}

func TestScheduler_Remove(t *testing.T) {
	sched, _ := setupScheduler(t)
	ctx := context.Background()

	trigger, err := NewIntervalTrigger(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	created, err := sched.Add(ctx, "etl-daily", trigger, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := sched.Remove(ctx, created.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := sched.Get(ctx, created.ID); err == nil {
		t.Error("expected removed schedule to be gone")
	}

	list, err := sched.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d", len(list))
	}
}

func TestScheduler_JobsDefaultLimit(t *testing.T) {
	sched, store := setupScheduler(t)
	ctx := context.Background()

	created, err := sched.Add(ctx, "etl-daily", NewOnceTrigger(time.Now().Add(time.Hour)), nil)
	if err != nil {
		t.Fatal(err)
	}
	job := &Job{ID: "job-1", ScheduleID: created.ID, Status: JobSuccess, RunTime: time.Now().UTC()}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	jobs, err := sched.Jobs(ctx, created.ID, 0, 0)
	if err != nil {
		t.Fatalf("jobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Errorf("unexpected jobs: %+v", jobs)
	}
}

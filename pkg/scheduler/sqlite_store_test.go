package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sluiceio/sluice/pkg/config"
)

// setupTestStore creates a file-backed SQLite store in a test temp dir with
// migrations applied.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSchedule(t *testing.T, id string) *Schedule {
	t.Helper()

	trigger, err := NewIntervalTrigger(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Minute)
	return &Schedule{
		ID:           id,
		PipelineName: "etl-daily",
		Trigger:      trigger,
		NextRun:      &next,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sched := testSchedule(t, "sched-1")
	sched.ExecutorOverride = &config.ExecutorPatch{
		Type:       config.Some(config.ExecutorThreadPool),
		MaxWorkers: config.Some(6),
	}
	if err := store.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.PipelineName != "etl-daily" {
		t.Errorf("expected pipeline etl-daily, got %s", got.PipelineName)
	}
	if got.Trigger.Kind() != TriggerInterval || got.Trigger.Spec() != sched.Trigger.Spec() {
		t.Errorf("trigger did not round trip: %s %q", got.Trigger.Kind(), got.Trigger.Spec())
	}
	if got.NextRun == nil || !got.NextRun.Equal(*sched.NextRun) {
		t.Errorf("next run did not round trip: %v", got.NextRun)
	}
	if got.ExecutorOverride == nil {
		t.Fatal("executor override did not round trip")
	}
	if typ, ok := got.ExecutorOverride.Type.Get(); !ok || typ != config.ExecutorThreadPool {
		t.Errorf("override type lost: %v %v", typ, ok)
	}
	if n, ok := got.ExecutorOverride.MaxWorkers.Get(); !ok || n != 6 {
		t.Errorf("override max_workers lost: %v %v", n, ok)
	}
}

func TestSQLiteStore_GetUnknown(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSchedule(context.Background(), "missing")
	var serr *StateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StateError, got %T: %v", err, err)
	}
	if serr.ScheduleID != "missing" || serr.Op != "get" {
		t.Errorf("unexpected StateError fields: %+v", serr)
	}
}

func TestSQLiteStore_ListDue(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	due := testSchedule(t, "due")
	past := now.Add(-time.Minute)
	due.NextRun = &past

	paused := testSchedule(t, "paused")
	paused.NextRun = &past
	paused.Paused = true

	future := testSchedule(t, "future")
	later := now.Add(time.Hour)
	future.NextRun = &later

	dormant := testSchedule(t, "dormant")
	dormant.NextRun = nil

	for _, sched := range []*Schedule{due, paused, future, dormant} {
		if err := store.CreateSchedule(ctx, sched); err != nil {
			t.Fatalf("create %s failed: %v", sched.ID, err)
		}
	}

	got, err := store.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("list due failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "due" {
		ids := make([]string, len(got))
		for i, s := range got {
			ids[i] = s.ID
		}
		t.Errorf("expected only the due schedule, got %v", ids)
	}
}

func TestSQLiteStore_SetPaused(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateSchedule(ctx, testSchedule(t, "sched-1")); err != nil {
		t.Fatal(err)
	}

	if err := store.SetPaused(ctx, "sched-1", true); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	got, err := store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Paused {
		t.Error("expected schedule to be paused")
	}

	var serr *StateError
	err = store.SetPaused(ctx, "missing", false)
	if !errors.As(err, &serr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if serr.Op != "resume" {
		t.Errorf("expected resume op, got %s", serr.Op)
	}
}

func TestSQLiteStore_UpdateNextRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateSchedule(ctx, testSchedule(t, "sched-1")); err != nil {
		t.Fatal(err)
	}

	next := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	if err := store.UpdateNextRun(ctx, "sched-1", &next); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err := store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRun == nil || !got.NextRun.Equal(next) {
		t.Errorf("expected next run %s, got %v", next, got.NextRun)
	}

	// A nil next run puts the schedule to sleep.
	if err := store.UpdateNextRun(ctx, "sched-1", nil); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	got, err = store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRun != nil {
		t.Errorf("expected cleared next run, got %v", got.NextRun)
	}
}

func TestSQLiteStore_DeleteCascadesJobs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateSchedule(ctx, testSchedule(t, "sched-1")); err != nil {
		t.Fatal(err)
	}
	job := &Job{ID: "job-1", ScheduleID: "sched-1", Status: JobRunning, RunTime: time.Now().UTC()}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteSchedule(ctx, "sched-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	jobs, err := store.ListJobs(ctx, "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected jobs to cascade on delete, got %d", len(jobs))
	}

	var serr *StateError
	if err := store.DeleteSchedule(ctx, "sched-1"); !errors.As(err, &serr) {
		t.Errorf("expected StateError for double delete, got %v", err)
	}
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateSchedule(ctx, testSchedule(t, "sched-1")); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	ok := &Job{ID: "job-ok", ScheduleID: "sched-1", Status: JobRunning, RunTime: base}
	bad := &Job{ID: "job-bad", ScheduleID: "sched-1", Status: JobRunning, RunTime: base.Add(time.Minute)}
	for _, job := range []*Job{ok, bad} {
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("create job %s failed: %v", job.ID, err)
		}
	}

	if err := store.CompleteJob(ctx, "job-ok", JobSuccess, nil); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	msg := "engine exploded"
	if err := store.CompleteJob(ctx, "job-bad", JobError, &msg); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	jobs, err := store.ListJobs(ctx, "sched-1", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	// Newest run time first.
	if jobs[0].ID != "job-bad" || jobs[1].ID != "job-ok" {
		t.Errorf("expected newest first, got %s then %s", jobs[0].ID, jobs[1].ID)
	}
	if jobs[0].Status != JobError || jobs[0].Error == nil || *jobs[0].Error != msg {
		t.Errorf("error outcome not recorded: %+v", jobs[0])
	}
	if jobs[1].Status != JobSuccess || jobs[1].Error != nil {
		t.Errorf("success outcome not recorded: %+v", jobs[1])
	}
	if jobs[0].CompletedAt == nil || jobs[1].CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	if err := store.CompleteJob(ctx, "missing", JobSuccess, nil); err == nil {
		t.Error("expected error completing unknown job")
	}
}

func TestSQLiteStore_ListJobsLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateSchedule(ctx, testSchedule(t, "sched-1")); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		job := &Job{
			ID:         "job-" + string(rune('a'+i)),
			ScheduleID: "sched-1",
			Status:     JobSuccess,
			RunTime:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := store.ListJobs(ctx, "sched-1", 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "job-d" || jobs[1].ID != "job-c" {
		t.Errorf("unexpected page contents: %s, %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestSQLiteStore_HealthCheck(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}

	uninit, err := NewSQLiteStore(StoreConfig{Path: "unused.db"})
	if err != nil {
		t.Fatal(err)
	}
	if err := uninit.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure before init")
	}
}

package scheduler

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gopkg.in/yaml.v3"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/sluiceio/sluice/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// StoreConfig holds SQLite store configuration.
type StoreConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Init must be called
// before use.
func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode and runs pending migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateSchedule inserts a new schedule record.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	override, err := encodeOverride(sched.ExecutorOverride)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedules (id, pipeline_name, trigger_kind, trigger_spec, paused, executor_override, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		sched.ID,
		sched.PipelineName,
		sched.Trigger.Kind(),
		sched.Trigger.Spec(),
		sched.Paused,
		override,
		sched.NextRun,
		sched.CreatedAt,
		sched.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	query := `
		SELECT id, pipeline_name, trigger_kind, trigger_spec, paused, executor_override, next_run_at, created_at, updated_at
		FROM schedules
		WHERE id = ?
	`

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &StateError{ScheduleID: id, Op: "get", Message: "not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules lists all schedules ordered by creation time.
func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	query := `
		SELECT id, pipeline_name, trigger_kind, trigger_spec, paused, executor_override, next_run_at, created_at, updated_at
		FROM schedules
		ORDER BY created_at ASC
	`
	return s.querySchedules(ctx, query)
}

// ListDue returns unpaused schedules due at or before now.
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	query := `
		SELECT id, pipeline_name, trigger_kind, trigger_spec, paused, executor_override, next_run_at, created_at, updated_at
		FROM schedules
		WHERE paused = 0 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
	`
	return s.querySchedules(ctx, query, now)
}

func (s *SQLiteStore) querySchedules(ctx context.Context, query string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	scheds := []*Schedule{}
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		scheds = append(scheds, sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return scheds, nil
}

// DeleteSchedule deletes a schedule by ID; its jobs cascade.
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	query := `DELETE FROM schedules WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &StateError{ScheduleID: id, Op: "remove", Message: "not found"}
	}
	return nil
}

// SetPaused flips the paused flag of a schedule.
func (s *SQLiteStore) SetPaused(ctx context.Context, id string, paused bool) error {
	query := `UPDATE schedules SET paused = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, paused, id)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		op := "pause"
		if !paused {
			op = "resume"
		}
		return &StateError{ScheduleID: id, Op: op, Message: "not found"}
	}
	return nil
}

// UpdateNextRun records the next due time for a schedule.
func (s *SQLiteStore) UpdateNextRun(ctx context.Context, id string, next *time.Time) error {
	query := `UPDATE schedules SET next_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, next, id)
	if err != nil {
		return fmt.Errorf("failed to update next run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &StateError{ScheduleID: id, Op: "reschedule", Message: "not found"}
	}
	return nil
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (id, schedule_id, status, run_time, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.ScheduleID,
		job.Status,
		job.RunTime,
		job.Error,
		job.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// CompleteJob finalizes a running job with its outcome.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, status JobStatus, errMsg *string) error {
	query := `
		UPDATE jobs
		SET status = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// ListJobs lists jobs, newest first. An empty scheduleID lists across all
// schedules.
func (s *SQLiteStore) ListJobs(ctx context.Context, scheduleID string, limit, offset int) ([]*Job, error) {
	query := `
		SELECT id, schedule_id, status, run_time, error, completed_at
		FROM jobs
		WHERE (? = '' OR schedule_id = ?)
		ORDER BY run_time DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, scheduleID, scheduleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job := &Job{}
		err := rows.Scan(
			&job.ID,
			&job.ScheduleID,
			&job.Status,
			&job.RunTime,
			&job.Error,
			&job.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	sched := &Schedule{}
	var kind, spec string
	var override *string

	err := row.Scan(
		&sched.ID,
		&sched.PipelineName,
		&kind,
		&spec,
		&sched.Paused,
		&override,
		&sched.NextRun,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	trigger, err := ParseTrigger(kind, spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sched.ID, err)
	}
	sched.Trigger = trigger

	sched.ExecutorOverride, err = decodeOverride(override)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sched.ID, err)
	}
	return sched, nil
}

// encodeOverride serializes the executor override patch to YAML for the
// executor_override column; nil maps to SQL NULL.
func encodeOverride(patch *config.ExecutorPatch) (*string, error) {
	if patch == nil {
		return nil, nil
	}
	raw, err := yaml.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode executor override: %w", err)
	}
	text := string(raw)
	return &text, nil
}

func decodeOverride(text *string) (*config.ExecutorPatch, error) {
	if text == nil {
		return nil, nil
	}
	var patch config.ExecutorPatch
	if err := yaml.Unmarshal([]byte(*text), &patch); err != nil {
		return nil, fmt.Errorf("failed to decode executor override: %w", err)
	}
	return &patch, nil
}

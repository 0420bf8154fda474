package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Plan Operations
// =============================================================================

// SavePlan upserts a plan document. Plans are content-addressed, so a
// conflicting ID always carries an identical document.
func (s *SQLiteStore) SavePlan(ctx context.Context, p *plan.DeploymentPlan) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return NewStoreError("SavePlan", "plan", p.ID, err.Error(), ErrInvalidData)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, document, phases, steps, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID, string(doc), len(p.Phases), p.StepCount(), time.Now().UTC(),
	)
	if err != nil {
		return NewStoreError("SavePlan", "plan", p.ID, err.Error(), err)
	}
	return nil
}

// GetPlan retrieves a plan document by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*plan.DeploymentPlan, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, `SELECT document FROM plans WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetPlan", "plan", id, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetPlan", "plan", id, err.Error(), err)
	}

	var p plan.DeploymentPlan
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, NewStoreError("GetPlan", "plan", id, err.Error(), ErrInvalidData)
	}
	return &p, nil
}

// ListPlans lists stored plan metadata, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context) ([]PlanRecord, error) {
	var records []PlanRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, phases, steps, created_at FROM plans ORDER BY created_at DESC`)
	if err != nil {
		return nil, NewStoreError("ListPlans", "plan", "", err.Error(), err)
	}
	return records, nil
}

// =============================================================================
// Run Operations
// =============================================================================

// SaveRun upserts a run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, plan_id, state, failed_phase, failed_step, cause, started_at, finished_at)
		VALUES (:id, :plan_id, :state, :failed_phase, :failed_step, :cause, :started_at, :finished_at)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			failed_phase = excluded.failed_phase,
			failed_step = excluded.failed_step,
			cause = excluded.cause,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		run,
	)
	if err != nil {
		return NewStoreError("SaveRun", "run", run.ID, err.Error(), err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var run RunRecord
	err := s.db.GetContext(ctx, &run, `
		SELECT id, plan_id, state, failed_phase, failed_step, cause, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetRun", "run", id, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}
	return &run, nil
}

// ListRunsByPlan lists runs of a plan, newest first.
func (s *SQLiteStore) ListRunsByPlan(ctx context.Context, planID string) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, plan_id, state, failed_phase, failed_step, cause, started_at, finished_at
		FROM runs WHERE plan_id = ? ORDER BY started_at DESC`, planID)
	if err != nil {
		return nil, NewStoreError("ListRunsByPlan", "run", planID, err.Error(), err)
	}
	return runs, nil
}

// =============================================================================
// Step State Operations
// =============================================================================

// UpsertStepState writes the latest state of a step within a run.
func (s *SQLiteStore) UpsertStepState(ctx context.Context, rec *StepRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO step_states (run_id, step_id, node_id, phase, state, attempts, message, started_at, finished_at, updated_at)
		VALUES (:run_id, :step_id, :node_id, :phase, :state, :attempts, :message, :started_at, :finished_at, :updated_at)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			message = excluded.message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at`,
		rec,
	)
	if err != nil {
		return NewStoreError("UpsertStepState", "step", rec.StepID, err.Error(), err)
	}
	return nil
}

// ListStepStates lists the step states of a run, ordered by phase then
// step ID.
func (s *SQLiteStore) ListStepStates(ctx context.Context, runID string) ([]StepRecord, error) {
	var records []StepRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT run_id, step_id, node_id, phase, state, attempts, message, started_at, finished_at, updated_at
		FROM step_states WHERE run_id = ? ORDER BY phase, step_id`, runID)
	if err != nil {
		return nil, NewStoreError("ListStepStates", "step", runID, err.Error(), err)
	}
	return records, nil
}

package store

import (
	"context"
	"time"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for rollout entities.
type Store interface {
	// Plan operations. Plans are immutable; SavePlan is an upsert because
	// re-planning an unchanged manifest produces the same plan ID.
	SavePlan(ctx context.Context, p *plan.DeploymentPlan) error
	GetPlan(ctx context.Context, id string) (*plan.DeploymentPlan, error)
	ListPlans(ctx context.Context) ([]PlanRecord, error)

	// Run operations.
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRunsByPlan(ctx context.Context, planID string) ([]RunRecord, error)

	// Step state operations.
	UpsertStepState(ctx context.Context, rec *StepRecord) error
	ListStepStates(ctx context.Context, runID string) ([]StepRecord, error)

	Close() error
}

// =============================================================================
// Records
// =============================================================================

// PlanRecord is a stored plan's metadata; the plan document itself is
// retrieved with GetPlan.
type PlanRecord struct {
	ID        string    `db:"id"`
	Phases    int       `db:"phases"`
	Steps     int       `db:"steps"`
	CreatedAt time.Time `db:"created_at"`
}

// RunRecord is the persisted state of one plan execution.
type RunRecord struct {
	ID          string     `db:"id"`
	PlanID      string     `db:"plan_id"`
	State       string     `db:"state"`
	FailedPhase int        `db:"failed_phase"`
	FailedStep  string     `db:"failed_step"`
	Cause       string     `db:"cause"`
	StartedAt   *time.Time `db:"started_at"`
	FinishedAt  *time.Time `db:"finished_at"`
}

// StepRecord is the persisted state of one step within a run.
type StepRecord struct {
	RunID      string     `db:"run_id"`
	StepID     string     `db:"step_id"`
	NodeID     string     `db:"node_id"`
	Phase      int        `db:"phase"`
	State      string     `db:"state"`
	Attempts   int        `db:"attempts"`
	Message    string     `db:"message"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

package store

import (
	"context"

	"github.com/industriverse/industriverse-sub007/internal/shell/engine"
)

// Recorder adapts a Store to the engine's persistence port. The engine
// treats recording as best-effort; errors surface to the caller for
// logging only.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder backed by store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordRun persists the run-level portion of a status snapshot.
func (r *Recorder) RecordRun(ctx context.Context, status engine.RunStatus) error {
	return r.store.SaveRun(ctx, &RunRecord{
		ID:          status.RunID,
		PlanID:      status.PlanID,
		State:       string(status.State),
		FailedPhase: status.FailedPhase,
		FailedStep:  status.FailedStep,
		Cause:       status.Cause,
		StartedAt:   status.StartedAt,
		FinishedAt:  status.FinishedAt,
	})
}

// RecordStep persists one step transition.
func (r *Recorder) RecordStep(ctx context.Context, runID string, status engine.StepStatus) error {
	return r.store.UpsertStepState(ctx, &StepRecord{
		RunID:      runID,
		StepID:     status.StepID,
		NodeID:     status.NodeID,
		Phase:      status.Phase,
		State:      string(status.State),
		Attempts:   status.Attempts,
		Message:    status.Message,
		StartedAt:  status.StartedAt,
		FinishedAt: status.FinishedAt,
	})
}

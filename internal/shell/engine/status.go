package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
)

// =============================================================================
// Run and Step Status
// =============================================================================

// RunState is the overall state of one plan execution.
type RunState string

const (
	RunPending    RunState = "pending"
	RunRunning    RunState = "running"
	RunSucceeded  RunState = "succeeded"
	RunFailed     RunState = "failed"
	RunRolledBack RunState = "rolled_back"
)

// StepStatus is the externally visible state of one step.
type StepStatus struct {
	StepID     string         `json:"step_id"`
	NodeID     string         `json:"node_id"`
	Phase      int            `json:"phase"`
	State      plan.StepState `json:"state"`
	Attempts   int            `json:"attempts"`
	Message    string         `json:"message,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// PhaseStatus is the externally visible state of one phase.
type PhaseStatus struct {
	Index int             `json:"index"`
	State plan.PhaseState `json:"state"`
}

// RunStatus is a point-in-time snapshot of a run: per-step state, per-phase
// state and the terminal result. Queryable at any time during execution.
type RunStatus struct {
	RunID       string        `json:"run_id"`
	PlanID      string        `json:"plan_id"`
	State       RunState      `json:"state"`
	Phases      []PhaseStatus `json:"phases"`
	Steps       []StepStatus  `json:"steps"`
	FailedPhase int           `json:"failed_phase,omitempty"`
	FailedStep  string        `json:"failed_step,omitempty"`
	Cause       string        `json:"cause,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// =============================================================================
// Tracker - single-writer state store
// =============================================================================

// tracker holds the mutable per-run state. The engine is the only writer;
// concurrent status queries read snapshots under the same lock, so the
// status surface always reflects the true current state.
type tracker struct {
	mu sync.RWMutex

	runID       string
	planID      string
	state       RunState
	phases      []plan.PhaseState
	steps       map[string]*StepStatus
	failedPhase int
	failedStep  string
	cause       string
	startedAt   *time.Time
	finishedAt  *time.Time
}

func newTracker(runID string, p *plan.DeploymentPlan) *tracker {
	t := &tracker{
		runID:  runID,
		planID: p.ID,
		state:  RunPending,
		phases: make([]plan.PhaseState, len(p.Phases)),
		steps:  make(map[string]*StepStatus, p.StepCount()),
	}
	for i := range t.phases {
		t.phases[i] = plan.PhaseNotStarted
	}
	for _, phase := range p.Phases {
		for _, s := range phase.Steps {
			t.steps[s.ID] = &StepStatus{
				StepID: s.ID,
				NodeID: s.NodeID,
				Phase:  phase.Index,
				State:  plan.StepPending,
			}
		}
	}
	return t
}

func (t *tracker) runStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.state = RunRunning
	t.startedAt = &now
}

func (t *tracker) runFinished(state RunState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.state = state
	t.finishedAt = &now
}

func (t *tracker) setPhaseState(index int, state plan.PhaseState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases[index] = state
}

func (t *tracker) stepStarted(stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	s := t.steps[stepID]
	s.State = plan.StepRunning
	s.StartedAt = &now
}

func (t *tracker) stepAttempt(stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps[stepID].Attempts++
}

func (t *tracker) stepState(stepID string, state plan.StepState, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.steps[stepID]
	s.State = state
	if message != "" {
		s.Message = message
	}
	switch state {
	case plan.StepDone, plan.StepFailed, plan.StepRolledBack, plan.StepRollbackFailed:
		now := time.Now().UTC()
		s.FinishedAt = &now
	}
}

func (t *tracker) failRecorded(phase int, stepID, cause string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failedPhase = phase
	t.failedStep = stepID
	t.cause = cause
}

func (t *tracker) stepSnapshot(stepID string) StepStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *t.steps[stepID]
}

// snapshot returns a deep copy; steps are ordered by phase then step ID.
func (t *tracker) snapshot() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := RunStatus{
		RunID:       t.runID,
		PlanID:      t.planID,
		State:       t.state,
		Phases:      make([]PhaseStatus, len(t.phases)),
		Steps:       make([]StepStatus, 0, len(t.steps)),
		FailedPhase: t.failedPhase,
		FailedStep:  t.failedStep,
		Cause:       t.cause,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
	}
	for i, state := range t.phases {
		status.Phases[i] = PhaseStatus{Index: i, State: state}
	}
	for _, s := range t.steps {
		status.Steps = append(status.Steps, *s)
	}
	sort.Slice(status.Steps, func(i, j int) bool {
		if status.Steps[i].Phase != status.Steps[j].Phase {
			return status.Steps[i].Phase < status.Steps[j].Phase
		}
		return status.Steps[i].StepID < status.Steps[j].StepID
	})
	return status
}

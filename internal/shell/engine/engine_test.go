package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industriverse/industriverse-sub007/internal/core/graph"
	"github.com/industriverse/industriverse-sub007/internal/core/plan"
	"github.com/industriverse/industriverse-sub007/internal/shell/rollback"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeApplier struct {
	mu        sync.Mutex
	applied   []string
	reverted  []string
	transient map[string]int  // step ID -> transient failures before success
	fatal     map[string]bool // step ID -> always fail fatally
	revertErr map[string]bool // step ID -> revert always fails
	applyHook func(step plan.Step)
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		transient: map[string]int{},
		fatal:     map[string]bool{},
		revertErr: map[string]bool{},
	}
}

func (f *fakeApplier) Apply(ctx context.Context, step plan.Step) error {
	if f.applyHook != nil {
		f.applyHook(step)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fatal[step.ID] {
		return errors.New("apply refused")
	}
	if f.transient[step.ID] > 0 {
		f.transient[step.ID]--
		return Transient(errors.New("backend hiccup"))
	}
	f.applied = append(f.applied, step.ID)
	return nil
}

func (f *fakeApplier) Revert(ctx context.Context, step plan.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revertErr[step.ID] {
		return errors.New("revert refused")
	}
	f.reverted = append(f.reverted, step.ID)
	return nil
}

func (f *fakeApplier) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

func (f *fakeApplier) revertedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reverted...)
}

type fakeProber struct {
	hook func(check plan.ReadinessCheck) error
}

func (f *fakeProber) WaitReady(ctx context.Context, check plan.ReadinessCheck) error {
	if f.hook != nil {
		return f.hook(check)
	}
	return nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	runStates []RunState
	stepCalls int
}

func (f *fakeRecorder) RecordRun(ctx context.Context, status RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runStates = append(f.runStates, status.State)
	return nil
}

func (f *fakeRecorder) RecordStep(ctx context.Context, runID string, status StepStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepCalls++
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func buildPlan(t *testing.T, nodes []graph.Node, edges []graph.Edge) *plan.DeploymentPlan {
	t.Helper()
	g, err := graph.Build(nodes, edges)
	require.NoError(t, err)
	p, err := plan.FromGraph(g)
	require.NoError(t, err)
	return p
}

func fastEngineConfig() Config {
	return Config{
		MaxConcurrent:  4,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		ApplyTimeout:   time.Second,
	}
}

func fastRollback(applier *fakeApplier, strategy rollback.Strategy) *rollback.Manager {
	return rollback.NewManager(applier, rollback.Config{
		Strategy:   strategy,
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)
}

func stepStatusOf(status RunStatus, stepID string) StepStatus {
	for _, s := range status.Steps {
		if s.StepID == stepID {
			return s
		}
	}
	return StepStatus{}
}

// =============================================================================
// Success Path
// =============================================================================

func TestExecute_Success(t *testing.T) {
	p := buildPlan(t,
		[]graph.Node{
			{ID: "A", Kind: graph.KindLayer, Priority: 1},
			{ID: "B", Kind: graph.KindLayer, Priority: 2},
			{ID: "C", Kind: graph.KindLayer, Priority: 2},
		},
		[]graph.Edge{
			{SourceID: "A", TargetID: "B"},
			{SourceID: "A", TargetID: "C"},
		},
	)

	applier := newFakeApplier()
	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), nil, fastEngineConfig(), nil)

	result := eng.NewRun(p).Execute(context.Background())

	assert.Equal(t, RunSucceeded, result.State)

	applied := applier.appliedIDs()
	require.Len(t, applied, 3)
	// Phase 1 before phase 2, always.
	assert.Equal(t, "A", applied[0])
	assert.ElementsMatch(t, []string{"B", "C"}, applied[1:])
}

func TestExecute_StatusReflectsTerminalState(t *testing.T) {
	p := buildPlan(t, []graph.Node{{ID: "solo", Kind: graph.KindLayer, Priority: 1}}, nil)
	applier := newFakeApplier()
	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), nil, fastEngineConfig(), nil)

	run := eng.NewRun(p)
	result := run.Execute(context.Background())
	require.Equal(t, RunSucceeded, result.State)

	status := run.Status()
	assert.NotEmpty(t, status.RunID)
	assert.Equal(t, p.ID, status.PlanID)
	assert.Equal(t, RunSucceeded, status.State)
	require.Len(t, status.Phases, 1)
	assert.Equal(t, plan.PhaseSucceeded, status.Phases[0].State)
	assert.Equal(t, plan.StepDone, stepStatusOf(status, "solo").State)
	assert.NotNil(t, status.FinishedAt)
}

// =============================================================================
// Retry Behavior
// =============================================================================

func TestExecute_TransientErrorsAreRetried(t *testing.T) {
	p := buildPlan(t, []graph.Node{{ID: "flaky", Kind: graph.KindLayer, Priority: 1}}, nil)
	applier := newFakeApplier()
	applier.transient["flaky"] = 2 // two hiccups, third attempt succeeds

	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), nil, fastEngineConfig(), nil)
	run := eng.NewRun(p)
	result := run.Execute(context.Background())

	assert.Equal(t, RunSucceeded, result.State)
	assert.Equal(t, 3, stepStatusOf(run.Status(), "flaky").Attempts)
}

func TestExecute_RetryExhaustionIsFatal(t *testing.T) {
	p := buildPlan(t, []graph.Node{{ID: "flaky", Kind: graph.KindLayer, Priority: 1}}, nil)
	applier := newFakeApplier()
	applier.transient["flaky"] = 99

	cfg := fastEngineConfig()
	cfg.MaxAttempts = 2
	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), nil, cfg, nil)
	run := eng.NewRun(p)
	result := run.Execute(context.Background())

	assert.Equal(t, RunFailed, result.State) // nothing completed, nothing to roll back
	assert.Equal(t, "flaky", result.FailedStep)
	assert.ErrorIs(t, result.Cause, ErrFatalStep)
	assert.Equal(t, 2, stepStatusOf(run.Status(), "flaky").Attempts)
}

func TestExecute_FatalApplyErrorIsNotRetried(t *testing.T) {
	p := buildPlan(t, []graph.Node{{ID: "broken", Kind: graph.KindLayer, Priority: 1}}, nil)
	applier := newFakeApplier()
	applier.fatal["broken"] = true

	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), nil, fastEngineConfig(), nil)
	run := eng.NewRun(p)
	result := run.Execute(context.Background())

	assert.Equal(t, RunFailed, result.State)
	assert.ErrorIs(t, result.Cause, ErrFatalStep)
	assert.Equal(t, 1, stepStatusOf(run.Status(), "broken").Attempts)
}

// =============================================================================
// Failure and Rollback
// =============================================================================

func TestExecute_ReadinessFailureRollsBackCompletedSiblings(t *testing.T) {
	// P and Q share a phase. P succeeds; Q's probe fails once P is done.
	// Rollback must reverse P only: Q never reached Done.
	p := buildPlan(t,
		[]graph.Node{
			{ID: "P", Kind: graph.KindLayer, Priority: 1},
			{ID: "Q", Kind: graph.KindLayer, Priority: 1, Probe: &graph.ProbeSpec{
				Type:     graph.ProbeHTTP,
				Endpoint: "http://q/healthz",
				Timeout:  30 * time.Second,
			}},
		},
		nil,
	)

	applier := newFakeApplier()
	var run *Run
	prober := &fakeProber{hook: func(check plan.ReadinessCheck) error {
		if check.Type == plan.CheckNone {
			return nil
		}
		// Wait until P has completed before failing Q.
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if stepStatusOf(run.Status(), "P").State == plan.StepDone {
				return errors.New("readiness timeout: http://q/healthz not healthy after 30s")
			}
			time.Sleep(time.Millisecond)
		}
		return errors.New("P never completed")
	}}

	eng := New(applier, prober, fastRollback(applier, ""), nil, fastEngineConfig(), nil)
	run = eng.NewRun(p)
	result := run.Execute(context.Background())

	assert.Equal(t, RunRolledBack, result.State)
	assert.Equal(t, "Q", result.FailedStep)
	assert.Equal(t, []string{"P"}, applier.revertedIDs())

	status := run.Status()
	assert.Equal(t, plan.StepRolledBack, stepStatusOf(status, "P").State)
	assert.Equal(t, plan.StepFailed, stepStatusOf(status, "Q").State)
	assert.Equal(t, plan.PhaseFailed, status.Phases[0].State)
}

func TestExecute_LaterPhasesNeverEntered(t *testing.T) {
	p := buildPlan(t,
		[]graph.Node{
			{ID: "first", Kind: graph.KindLayer, Priority: 1},
			{ID: "second", Kind: graph.KindLayer, Priority: 2},
		},
		nil,
	)
	applier := newFakeApplier()
	applier.fatal["first"] = true

	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), nil, fastEngineConfig(), nil)
	run := eng.NewRun(p)
	result := run.Execute(context.Background())

	assert.Equal(t, RunFailed, result.State)
	assert.NotContains(t, applier.appliedIDs(), "second")

	status := run.Status()
	assert.Equal(t, plan.PhaseNotStarted, status.Phases[1].State)
	assert.Equal(t, plan.StepPending, stepStatusOf(status, "second").State)
}

func TestExecute_CascadeRollsBackEarlierPhases(t *testing.T) {
	p := buildPlan(t,
		[]graph.Node{
			{ID: "a", Kind: graph.KindLayer, Priority: 1},
			{ID: "b", Kind: graph.KindLayer, Priority: 2},
		},
		[]graph.Edge{{SourceID: "a", TargetID: "b"}},
	)
	applier := newFakeApplier()
	applier.fatal["b"] = true

	eng := New(applier, &fakeProber{}, fastRollback(applier, rollback.StrategyCascade), nil, fastEngineConfig(), nil)
	run := eng.NewRun(p)
	result := run.Execute(context.Background())

	assert.Equal(t, RunRolledBack, result.State)
	assert.Equal(t, []string{"a"}, applier.revertedIDs())
	assert.Equal(t, plan.StepRolledBack, stepStatusOf(run.Status(), "a").State)
}

func TestExecute_RollbackFailureIsTerminalFailed(t *testing.T) {
	p := buildPlan(t,
		[]graph.Node{
			{ID: "a", Kind: graph.KindLayer, Priority: 1},
			{ID: "b", Kind: graph.KindLayer, Priority: 2},
		},
		[]graph.Edge{{SourceID: "a", TargetID: "b"}},
	)
	applier := newFakeApplier()
	applier.fatal["b"] = true
	applier.revertErr["a"] = true

	eng := New(applier, &fakeProber{}, fastRollback(applier, rollback.StrategyCascade), nil, fastEngineConfig(), nil)
	run := eng.NewRun(p)
	result := run.Execute(context.Background())

	assert.Equal(t, RunFailed, result.State)
	require.NotNil(t, result.Rollback)
	assert.False(t, result.Rollback.Ok())
	assert.Equal(t, plan.StepRollbackFailed, stepStatusOf(run.Status(), "a").State)
}

// =============================================================================
// Cancellation
// =============================================================================

func TestExecute_CancelStopsDispatchAndRollsBack(t *testing.T) {
	p := buildPlan(t,
		[]graph.Node{
			{ID: "a", Kind: graph.KindLayer, Priority: 1},
			{ID: "b", Kind: graph.KindLayer, Priority: 2},
		},
		[]graph.Edge{{SourceID: "a", TargetID: "b"}},
	)

	applier := newFakeApplier()
	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), nil, fastEngineConfig(), nil)
	run := eng.NewRun(p)

	// Cancel while the first step's apply is in flight. The apply itself
	// completes; the run fails before entering the next phase.
	applier.applyHook = func(step plan.Step) {
		if step.ID == "a" {
			run.Cancel()
		}
	}

	result := run.Execute(context.Background())

	assert.ErrorIs(t, result.Cause, ErrRunAborted)
	assert.NotContains(t, applier.appliedIDs(), "b")
	assert.Contains(t, applier.appliedIDs(), "a") // in-flight apply completed
}

// =============================================================================
// Persistence Hooks
// =============================================================================

func TestExecute_RecorderObservesTransitions(t *testing.T) {
	p := buildPlan(t, []graph.Node{{ID: "a", Kind: graph.KindLayer, Priority: 1}}, nil)
	applier := newFakeApplier()
	rec := &fakeRecorder{}

	eng := New(applier, &fakeProber{}, fastRollback(applier, ""), rec, fastEngineConfig(), nil)
	result := eng.NewRun(p).Execute(context.Background())
	require.Equal(t, RunSucceeded, result.State)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []RunState{RunRunning, RunSucceeded}, rec.runStates)
	assert.Greater(t, rec.stepCalls, 0)
}

// =============================================================================
// Error Classification
// =============================================================================

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection reset")
	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(base))
	assert.ErrorIs(t, Transient(base), base) // inner error stays inspectable
}

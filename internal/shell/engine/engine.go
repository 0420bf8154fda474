package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
	"github.com/industriverse/industriverse-sub007/internal/shell/rollback"
)

// =============================================================================
// Collaborator Ports
// =============================================================================

// Applier is the external deployment backend. Apply performs the step's
// action against the real world; Revert undoes it. Implementations wrap
// retryable failures with Transient.
type Applier interface {
	Apply(ctx context.Context, step plan.Step) error
	Revert(ctx context.Context, step plan.Step) error
}

// Prober confirms step readiness. A non-nil error is always fatal for the
// step; readiness timeouts are never transient.
type Prober interface {
	WaitReady(ctx context.Context, check plan.ReadinessCheck) error
}

// Recorder persists run and step transitions. All methods are best-effort:
// persistence failures are logged, never block execution.
type Recorder interface {
	RecordRun(ctx context.Context, status RunStatus) error
	RecordStep(ctx context.Context, runID string, status StepStatus) error
}

// =============================================================================
// Engine
// =============================================================================

// Config configures the execution engine.
type Config struct {
	// MaxConcurrent bounds concurrent step dispatch within a phase.
	// Default: 4.
	MaxConcurrent int

	// MaxAttempts bounds apply attempts per step, counting the first.
	// Default: 3.
	MaxAttempts int

	// RetryBaseDelay seeds the exponential backoff between apply attempts.
	// Default: 2 seconds.
	RetryBaseDelay time.Duration

	// ApplyTimeout bounds a single apply call. Default: 5 minutes.
	ApplyTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		MaxAttempts:    3,
		RetryBaseDelay: 2 * time.Second,
		ApplyTimeout:   5 * time.Minute,
	}
}

// Engine executes deployment plans. One Engine serves many runs; each run
// gets its own state tracker.
type Engine struct {
	applier  Applier
	prober   Prober
	rollback *rollback.Manager
	recorder Recorder
	config   Config
	logger   *slog.Logger
}

// New creates an execution engine. recorder may be nil.
func New(applier Applier, prober Prober, rb *rollback.Manager, recorder Recorder, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		applier:  applier,
		prober:   prober,
		rollback: rb,
		recorder: recorder,
		config:   cfg,
		logger:   logger.With("component", "engine"),
	}
}

// =============================================================================
// Run
// =============================================================================

// Result is the terminal outcome of a run.
type Result struct {
	State       RunState
	FailedPhase int
	FailedStep  string
	Cause       error
	Rollback    *rollback.Result
}

// Run is one execution of a plan. Status is queryable at any time while
// Execute is in flight.
type Run struct {
	ID     string
	plan   *plan.DeploymentPlan
	engine *Engine
	track  *tracker
	logger *slog.Logger

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// completed steps per phase, in completion order
	doneMu sync.Mutex
	done   [][]plan.Step
}

// NewRun prepares an execution of p. Nothing happens until Execute.
func (e *Engine) NewRun(p *plan.DeploymentPlan) *Run {
	id := uuid.New().String()
	return &Run{
		ID:     id,
		plan:   p,
		engine: e,
		track:  newTracker(id, p),
		logger: e.logger.With("run_id", id, "plan_id", p.ID),
		done:   make([][]plan.Step, len(p.Phases)),
	}
}

// Status returns a point-in-time snapshot of the run.
func (r *Run) Status() RunStatus {
	return r.track.snapshot()
}

// Cancel aborts the run: no new steps are dispatched, the current phase
// fails and rolls back. In-flight apply calls complete but their results
// no longer drive forward progress.
func (r *Run) Cancel() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// =============================================================================
// Execution
// =============================================================================

// Execute walks the plan. Phases run strictly in sequence; a phase is
// entered only after the previous one succeeded. Blocks until the run is
// terminal and returns the result.
func (r *Run) Execute(ctx context.Context) *Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()

	r.track.runStarted()
	r.record(runCtx)
	r.logger.Info("run started", "phases", len(r.plan.Phases), "steps", r.plan.StepCount())

	for _, phase := range r.plan.Phases {
		r.track.setPhaseState(phase.Index, plan.PhaseRunning)
		r.logger.Info("phase started", "phase", phase.Index, "steps", len(phase.Steps))

		stepErr := r.runPhase(runCtx, phase)
		if stepErr == nil {
			r.track.setPhaseState(phase.Index, plan.PhaseSucceeded)
			r.logger.Info("phase succeeded", "phase", phase.Index)
			continue
		}

		r.track.setPhaseState(phase.Index, plan.PhaseFailed)
		r.track.failRecorded(stepErr.Phase, stepErr.StepID, stepErr.Err.Error())
		r.logger.Error("phase failed",
			"phase", stepErr.Phase,
			"step", stepErr.StepID,
			"error", stepErr.Err,
		)

		result := r.rollbackFailedPhase(ctx, phase.Index, stepErr)
		r.track.runFinished(result.State)
		r.record(context.WithoutCancel(ctx))
		return result
	}

	r.track.runFinished(RunSucceeded)
	r.record(runCtx)
	r.logger.Info("run succeeded")
	return &Result{State: RunSucceeded}
}

// runPhase dispatches the phase's steps concurrently, bounded by the
// configured limit. The first terminal failure stops further dispatch;
// steps already in flight complete. Returns nil only when every step is
// independently confirmed ready.
func (r *Run) runPhase(ctx context.Context, phase plan.Phase) *StepError {
	sem := make(chan struct{}, r.engine.config.MaxConcurrent)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr *StepError
	stopped := false

	for _, step := range phase.Steps {
		wg.Add(1)
		go func(step plan.Step) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			// Never dispatch after the phase has failed.
			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			mu.Unlock()

			err := r.runStep(ctx, step)
			if err != nil {
				r.track.stepState(step.ID, plan.StepFailed, err.Error())
				r.recordStep(ctx, step.ID)
				mu.Lock()
				if firstErr == nil {
					firstErr = &StepError{Phase: phase.Index, StepID: step.ID, Err: err}
					stopped = true
				}
				mu.Unlock()
				return
			}

			r.track.stepState(step.ID, plan.StepDone, "")
			r.recordStep(ctx, step.ID)
			r.doneMu.Lock()
			r.done[phase.Index] = append(r.done[phase.Index], step)
			r.doneMu.Unlock()
		}(step)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr == nil && ctx.Err() != nil {
		firstErr = &StepError{Phase: phase.Index, Err: ErrRunAborted}
	}
	return firstErr
}

// runStep applies the step with retries, then waits for readiness.
func (r *Run) runStep(ctx context.Context, step plan.Step) error {
	r.track.stepStarted(step.ID)
	r.recordStep(ctx, step.ID)

	if err := r.applyWithRetry(ctx, step); err != nil {
		return err
	}

	if err := r.engine.prober.WaitReady(ctx, step.Readiness); err != nil {
		return fmt.Errorf("%w: %v", ErrFatalStep, err)
	}
	r.track.stepState(step.ID, plan.StepReady, "")
	return nil
}

// applyWithRetry calls the applier with exponential backoff on transient
// errors. Fatal errors and retry exhaustion both classify as ErrFatalStep.
//
// The apply call itself runs under a detached, timeout-bounded context:
// cancelling the run stops new dispatch and discards results, but an apply
// already in flight is allowed to finish.
func (r *Run) applyWithRetry(ctx context.Context, step plan.Step) error {
	cfg := r.engine.config

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		r.track.stepAttempt(step.ID)

		applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ApplyTimeout)
		err := r.engine.applier.Apply(applyCtx, step)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return fmt.Errorf("%w: %v", ErrFatalStep, err)
		}

		r.logger.Warn("transient apply error",
			"step", step.ID,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", err,
		)

		if attempt < cfg.MaxAttempts {
			backoff := cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrFatalStep, ErrRunAborted)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("%w: apply failed after %d attempts: %v", ErrFatalStep, cfg.MaxAttempts, lastErr)
}

// =============================================================================
// Rollback Handoff
// =============================================================================

// rollbackFailedPhase reverses the failed phase's completed steps (and,
// under the cascade strategy, all previously succeeded phases, most recent
// first). Rollback runs even when the run context is already cancelled.
func (r *Run) rollbackFailedPhase(ctx context.Context, phaseIndex int, stepErr *StepError) *Result {
	result := &Result{
		State:       RunFailed,
		FailedPhase: stepErr.Phase,
		FailedStep:  stepErr.StepID,
		Cause:       stepErr.Err,
	}
	if r.engine.rollback == nil {
		return result
	}

	targets := r.rollbackTargets(phaseIndex)
	if len(targets) == 0 {
		return result
	}

	rbResult := r.engine.rollback.Rollback(context.WithoutCancel(ctx), targets)
	result.Rollback = rbResult

	for _, id := range rbResult.RolledBack {
		r.track.stepState(id, plan.StepRolledBack, "")
		r.recordStep(ctx, id)
	}
	for _, id := range rbResult.Failed {
		r.track.stepState(id, plan.StepRollbackFailed, "rollback budget exhausted")
		r.recordStep(ctx, id)
	}

	if rbResult.Ok() {
		result.State = RunRolledBack
	}
	return result
}

// rollbackTargets returns completed steps in reverse completion order,
// starting with the failed phase.
func (r *Run) rollbackTargets(phaseIndex int) []plan.Step {
	r.doneMu.Lock()
	defer r.doneMu.Unlock()

	firstPhase := phaseIndex
	if r.engine.rollback.Strategy() == rollback.StrategyCascade {
		firstPhase = 0
	}

	var targets []plan.Step
	for p := phaseIndex; p >= firstPhase; p-- {
		completed := r.done[p]
		for i := len(completed) - 1; i >= 0; i-- {
			targets = append(targets, completed[i])
		}
	}
	return targets
}

// =============================================================================
// Persistence
// =============================================================================

func (r *Run) record(ctx context.Context) {
	if r.engine.recorder == nil {
		return
	}
	if err := r.engine.recorder.RecordRun(ctx, r.track.snapshot()); err != nil {
		r.logger.Error("failed to persist run state", "error", err)
	}
}

func (r *Run) recordStep(ctx context.Context, stepID string) {
	if r.engine.recorder == nil {
		return
	}
	if err := r.engine.recorder.RecordStep(context.WithoutCancel(ctx), r.ID, r.track.stepSnapshot(stepID)); err != nil {
		r.logger.Error("failed to persist step state", "step", stepID, "error", err)
	}
}

// Package engine walks a DeploymentPlan phase by phase, dispatching steps
// to the apply collaborator under bounded concurrency, gating on readiness
// probes, and handing failed phases to the rollback manager.
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrTransientApply marks an apply failure that is safe to retry.
	// Appliers wrap retryable failures with Transient; everything else is
	// treated as fatal on first occurrence.
	ErrTransientApply = errors.New("transient apply error")

	// ErrFatalStep is the terminal classification of a step failure: a
	// fatal apply error, exhausted retries, or a readiness timeout.
	ErrFatalStep = errors.New("fatal step error")

	// ErrRunAborted is reported when the operator cancels the run.
	ErrRunAborted = errors.New("run aborted")
)

// Transient wraps err so the engine retries the apply with backoff.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientApply)
}

// TransientError carries a retryable apply failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient apply error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransientApply
}

// StepError identifies the step whose failure brought the phase down.
type StepError struct {
	Phase  int
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("phase %d: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("phase %d step %s: %v", e.Phase, e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

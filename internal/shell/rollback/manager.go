// Package rollback reverses completed deployment steps after a phase
// failure, under a bounded retry and timeout budget. It never loops
// indefinitely: a step that cannot be reverted within budget is marked
// failed and surfaced to the operator.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
)

// =============================================================================
// Strategy and Errors
// =============================================================================

// Strategy selects how far a rollback reaches.
type Strategy string

const (
	// StrategyPhaseByPhase reverses only the failed phase's completed steps.
	StrategyPhaseByPhase Strategy = "phase-by-phase"

	// StrategyCascade additionally reverses previously succeeded phases,
	// most recent first.
	StrategyCascade Strategy = "cascade"
)

// ErrRollbackFailed is returned when one or more steps could not be
// reverted within budget. Terminal; requires operator intervention.
var ErrRollbackFailed = errors.New("rollback failed")

// =============================================================================
// Manager
// =============================================================================

// Reverter undoes a single step. The execution engine's apply collaborator
// satisfies this.
type Reverter interface {
	Revert(ctx context.Context, step plan.Step) error
}

// Config configures the rollback manager.
type Config struct {
	// Strategy is the rollback reach. Default: StrategyPhaseByPhase.
	Strategy Strategy

	// Timeout is the overall budget for one rollback invocation.
	// Default: 10 minutes.
	Timeout time.Duration

	// MaxRetries is the attempt bound per step. Default: 3.
	MaxRetries int

	// RetryDelay is the pause between attempts on the same step.
	// Default: 5 seconds.
	RetryDelay time.Duration
}

// DefaultConfig returns the default rollback configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategyPhaseByPhase,
		Timeout:    10 * time.Minute,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

// Manager executes rollbacks.
type Manager struct {
	reverter Reverter
	config   Config
	logger   *slog.Logger
}

// NewManager creates a rollback manager.
func NewManager(r Reverter, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPhaseByPhase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		reverter: r,
		config:   cfg,
		logger:   logger.With("component", "rollback"),
	}
}

// Strategy returns the configured rollback reach.
func (m *Manager) Strategy() Strategy {
	return m.config.Strategy
}

// =============================================================================
// Result
// =============================================================================

// Result reports the outcome of one rollback invocation.
type Result struct {
	// RolledBack lists step IDs successfully reverted, in execution order.
	RolledBack []string

	// Failed lists step IDs that exhausted their budget.
	Failed []string

	// Attempts is the total number of revert calls issued. Bounded by
	// len(steps) x MaxRetries.
	Attempts int
}

// Ok reports whether every step was reverted.
func (r *Result) Ok() bool {
	return len(r.Failed) == 0
}

// Err returns ErrRollbackFailed naming the failed steps, or nil.
func (r *Result) Err() error {
	if r.Ok() {
		return nil
	}
	return fmt.Errorf("%w: step(s) %v not reverted", ErrRollbackFailed, r.Failed)
}

// =============================================================================
// Rollback
// =============================================================================

// Rollback reverts the given steps in order. Callers pass completed steps
// in reverse completion order (most recently completed first), so reversal
// respects the dependency order.
//
// Each step gets up to MaxRetries attempts inside the overall Timeout
// budget. When the budget runs out, the current and all remaining steps
// are marked failed.
func (m *Manager) Rollback(ctx context.Context, steps []plan.Step) *Result {
	result := &Result{}
	if len(steps) == 0 {
		return result
	}

	budget, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	m.logger.Info("starting rollback",
		"steps", len(steps),
		"strategy", m.config.Strategy,
		"max_retries", m.config.MaxRetries,
		"timeout", m.config.Timeout,
	)

	for i, step := range steps {
		if budget.Err() != nil {
			// Budget spent: everything left is failed, surfaced at once.
			for _, rest := range steps[i:] {
				result.Failed = append(result.Failed, rest.ID)
			}
			break
		}

		if m.revertStep(budget, step, result) {
			result.RolledBack = append(result.RolledBack, step.ID)
		} else {
			result.Failed = append(result.Failed, step.ID)
		}
	}

	if result.Ok() {
		m.logger.Info("rollback complete", "reverted", len(result.RolledBack), "attempts", result.Attempts)
	} else {
		m.logger.Error("rollback failed",
			"reverted", len(result.RolledBack),
			"failed_steps", result.Failed,
			"attempts", result.Attempts,
		)
	}
	return result
}

// revertStep tries one step up to MaxRetries times. Returns true on success.
func (m *Manager) revertStep(ctx context.Context, step plan.Step, result *Result) bool {
	action := step
	action.Action = plan.ActionRollback

	for attempt := 1; attempt <= m.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		result.Attempts++
		err := m.reverter.Revert(ctx, action)
		if err == nil {
			m.logger.Info("step rolled back", "step", step.ID, "attempt", attempt)
			return true
		}

		m.logger.Warn("rollback attempt failed",
			"step", step.ID,
			"attempt", attempt,
			"max_retries", m.config.MaxRetries,
			"error", err,
		)

		if attempt < m.config.MaxRetries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(m.config.RetryDelay):
			}
		}
	}
	return false
}

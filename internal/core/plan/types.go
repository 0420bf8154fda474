// Package plan turns a validated dependency graph into an immutable
// DeploymentPlan: ordered phases of steps with explicit cross-phase
// dependencies and readiness contracts. Pure functions only.
package plan

import (
	"time"

	"github.com/industriverse/industriverse-sub007/internal/core/graph"
)

// =============================================================================
// Step Action and States
// =============================================================================

// Action is what a step does to its node.
type Action string

const (
	ActionDeploy   Action = "deploy"
	ActionRollback Action = "rollback"
)

// StepState is the lifecycle state of a step during execution. The plan
// itself never carries state; the execution engine is the only writer.
type StepState string

const (
	StepPending        StepState = "pending"
	StepRunning        StepState = "running"
	StepReady          StepState = "ready"
	StepDone           StepState = "done"
	StepFailed         StepState = "failed"
	StepRolledBack     StepState = "rolled_back"
	StepRollbackFailed StepState = "rollback_failed"
)

// PhaseState is the lifecycle state of a phase during execution.
type PhaseState string

const (
	PhaseNotStarted PhaseState = "not_started"
	PhaseRunning    PhaseState = "running"
	PhaseSucceeded  PhaseState = "succeeded"
	PhaseFailed     PhaseState = "failed"
)

// =============================================================================
// Readiness Check
// =============================================================================

// CheckType identifies the readiness check mechanism for a step.
type CheckType string

const (
	CheckNone      CheckType = "none"
	CheckHTTP      CheckType = "http"
	CheckAggregate CheckType = "aggregate"
)

// Probe timing defaults applied when a node declares a probe without
// explicit timing.
const (
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Minute
)

// ReadinessCheck is the readiness contract a step must satisfy before it
// counts as Ready. CheckNone means the step is ready immediately after a
// successful apply.
type ReadinessCheck struct {
	Type         CheckType     `json:"type"`
	Endpoint     string        `json:"endpoint,omitempty"`
	Checks       []string      `json:"checks,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	Interval     time.Duration `json:"interval,omitempty"`
	InitialDelay time.Duration `json:"initial_delay,omitempty"`
}

// =============================================================================
// Plan Structure
// =============================================================================

// StepDependency references a step in an earlier phase that must reach the
// given condition first.
type StepDependency struct {
	StepID    string          `json:"step_id"`
	Condition graph.Condition `json:"condition"`
}

// Step is one unit of work in a phase. Step IDs equal node IDs: there is
// exactly one deploy step per node.
type Step struct {
	ID        string           `json:"id"`
	NodeID    string           `json:"node_id"`
	Action    Action           `json:"action"`
	Phase     int              `json:"phase"`
	Readiness ReadinessCheck   `json:"readiness"`
	DependsOn []StepDependency `json:"depends_on,omitempty"`
}

// Phase is an ordered group of steps. Steps within a phase have no edges
// between them and may execute concurrently.
type Phase struct {
	Index    int    `json:"index"`
	Priority int    `json:"priority"` // priority floor that opened the phase
	Steps    []Step `json:"steps"`
}

// DeploymentPlan is the complete, immutable rollout plan. Its ID is a
// fingerprint of the input graph, so planning the same graph twice yields
// identical plans.
type DeploymentPlan struct {
	ID     string  `json:"id"`
	Phases []Phase `json:"phases"`
}

// StepCount returns the total number of steps across all phases.
func (p *DeploymentPlan) StepCount() int {
	total := 0
	for _, phase := range p.Phases {
		total += len(phase.Steps)
	}
	return total
}

// FindStep returns the step with the given ID and the index of its phase.
func (p *DeploymentPlan) FindStep(stepID string) (Step, int, bool) {
	for _, phase := range p.Phases {
		for _, s := range phase.Steps {
			if s.ID == stepID {
				return s, phase.Index, true
			}
		}
	}
	return Step{}, 0, false
}

// PhaseIndexOf returns the phase index of a node's step.
func (p *DeploymentPlan) PhaseIndexOf(nodeID string) (int, bool) {
	_, idx, ok := p.FindStep(nodeID)
	return idx, ok
}

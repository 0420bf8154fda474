package graph

import "time"

// =============================================================================
// Node Types
// =============================================================================

// Kind identifies what sort of deployable unit a node represents.
type Kind string

const (
	KindLayer     Kind = "layer"
	KindComponent Kind = "component"
)

// DefaultPriority is the sentinel applied when a unit declares no priority.
// Units without a declared priority deploy last.
const DefaultPriority = 999

// Node is a single deployable unit in the dependency graph.
type Node struct {
	// ID uniquely identifies the node within the graph.
	ID string `json:"id"`

	// Kind is either KindLayer or KindComponent.
	Kind Kind `json:"kind"`

	// LayerID references the owning layer. Set only when Kind is KindComponent.
	LayerID string `json:"layer_id,omitempty"`

	// Priority orders the node within its scope. Zero value means
	// "undeclared"; callers resolve it through EffectivePriority.
	Priority int `json:"priority,omitempty"`

	// Version is the version of the unit being deployed.
	Version string `json:"version,omitempty"`

	// Probe is the declared readiness probe, if any.
	Probe *ProbeSpec `json:"probe,omitempty"`
}

// EffectivePriority returns the declared priority, or DefaultPriority when
// the node declared none.
func (n Node) EffectivePriority() int {
	if n.Priority <= 0 {
		return DefaultPriority
	}
	return n.Priority
}

// =============================================================================
// Probe Spec
// =============================================================================

// ProbeType identifies the readiness probe mechanism.
type ProbeType string

const (
	ProbeNone      ProbeType = "none"
	ProbeHTTP      ProbeType = "http"
	ProbeAggregate ProbeType = "aggregate"
)

// ProbeSpec is the declared readiness probe of a node.
type ProbeSpec struct {
	Type         ProbeType     `json:"type"`
	Endpoint     string        `json:"endpoint,omitempty"`
	Checks       []string      `json:"checks,omitempty"` // sub-check endpoints for aggregate probes
	InitialDelay time.Duration `json:"initial_delay,omitempty"`
	Period       time.Duration `json:"period,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// =============================================================================
// Edge Types
// =============================================================================

// Condition is what the edge source must reach before the target is eligible.
type Condition string

const (
	// ConditionReady requires the source's readiness check to pass.
	ConditionReady Condition = "ready"

	// ConditionSuccess requires the source's apply to complete.
	ConditionSuccess Condition = "success"

	// ConditionExists requires the source to have been dispatched.
	ConditionExists Condition = "exists"
)

// Edge is a directed dependency: source must reach Condition before target
// becomes eligible.
type Edge struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Condition Condition `json:"condition"`
}

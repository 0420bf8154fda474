package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/industriverse/industriverse-sub007/internal/core/graph"
)

// =============================================================================
// Builder Errors
// =============================================================================

var (
	// ErrIntraPhaseEdge signals a grouping invariant violation: an edge
	// with both endpoints in the same phase. The grouper makes this
	// structurally impossible; the builder asserts it defensively.
	ErrIntraPhaseEdge = errors.New("edge endpoints placed in the same phase")

	// ErrPhaseOrder signals that an edge points backwards across phases.
	ErrPhaseOrder = errors.New("edge crosses phases in the wrong direction")
)

// =============================================================================
// Plan Building
// =============================================================================

// FromGraph groups the graph by priority and builds the plan in one call.
func FromGraph(g *graph.Graph) (*DeploymentPlan, error) {
	return Build(g, GroupByPriority(g))
}

// Build converts phase candidates into a DeploymentPlan.
//
// Each node becomes exactly one deploy step. DependsOn holds the node's
// direct predecessor edges, all of which cross phase boundaries; the
// readiness check is inherited from the node's declared probe, defaulting
// to CheckNone.
//
// Building is deterministic: the plan ID is a fingerprint of the graph,
// so identical input graphs yield identical DeploymentPlan values.
func Build(g *graph.Graph, candidates []PhaseCandidate) (*DeploymentPlan, error) {
	phaseOf := make(map[string]int, g.Len())
	for i, c := range candidates {
		for _, id := range c.NodeIDs {
			phaseOf[id] = i
		}
	}

	// Grouping must never place an edge inside a phase or backwards
	// across phases. Assert, don't re-derive.
	for _, e := range g.Edges() {
		src, dst := phaseOf[e.SourceID], phaseOf[e.TargetID]
		switch {
		case src == dst:
			return nil, fmt.Errorf("%w: %s -> %s in phase %d", ErrIntraPhaseEdge, e.SourceID, e.TargetID, src)
		case src > dst:
			return nil, fmt.Errorf("%w: %s (phase %d) -> %s (phase %d)", ErrPhaseOrder, e.SourceID, src, e.TargetID, dst)
		}
	}

	phases := make([]Phase, 0, len(candidates))
	for i, c := range candidates {
		phase := Phase{Index: i, Priority: c.Priority, Steps: make([]Step, 0, len(c.NodeIDs))}
		for _, id := range c.NodeIDs {
			node, _ := g.Node(id)
			phase.Steps = append(phase.Steps, Step{
				ID:        id,
				NodeID:    id,
				Action:    ActionDeploy,
				Phase:     i,
				Readiness: readinessFor(node),
				DependsOn: dependenciesFor(g, id),
			})
		}
		phases = append(phases, phase)
	}

	return &DeploymentPlan{
		ID:     fingerprint(g),
		Phases: phases,
	}, nil
}

// readinessFor derives a step's readiness check from the node's declared
// probe. Absent probe means the step is ready immediately after apply.
func readinessFor(node graph.Node) ReadinessCheck {
	if node.Probe == nil || node.Probe.Type == "" || node.Probe.Type == graph.ProbeNone {
		return ReadinessCheck{Type: CheckNone}
	}

	check := ReadinessCheck{
		Endpoint:     node.Probe.Endpoint,
		Checks:       append([]string(nil), node.Probe.Checks...),
		Timeout:      node.Probe.Timeout,
		Interval:     node.Probe.Period,
		InitialDelay: node.Probe.InitialDelay,
	}
	switch node.Probe.Type {
	case graph.ProbeAggregate:
		check.Type = CheckAggregate
	default:
		check.Type = CheckHTTP
	}
	if check.Interval <= 0 {
		check.Interval = DefaultProbeInterval
	}
	if check.Timeout <= 0 {
		check.Timeout = DefaultProbeTimeout
	}
	return check
}

// dependenciesFor lists the node's direct predecessor edges, sorted by
// step ID for deterministic output.
func dependenciesFor(g *graph.Graph, id string) []StepDependency {
	preds := g.Predecessors(id)
	if len(preds) == 0 {
		return nil
	}
	sort.Strings(preds)

	deps := make([]StepDependency, 0, len(preds))
	for _, pred := range preds {
		edge, _ := g.EdgeBetween(pred, id)
		cond := edge.Condition
		if cond == "" {
			cond = graph.ConditionReady
		}
		deps = append(deps, StepDependency{StepID: pred, Condition: cond})
	}
	return deps
}

// =============================================================================
// Graph Fingerprint
// =============================================================================

// fingerprint hashes the canonical encoding of the graph's nodes and
// edges. Same graph in, same plan ID out.
func fingerprint(g *graph.Graph) string {
	var b strings.Builder

	nodes := g.Sorted()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, n := range nodes {
		fmt.Fprintf(&b, "n|%s|%s|%s|%d|%s", n.ID, n.Kind, n.LayerID, n.EffectivePriority(), n.Version)
		if n.Probe != nil {
			fmt.Fprintf(&b, "|%s|%s|%s|%d|%d|%d",
				n.Probe.Type, n.Probe.Endpoint, strings.Join(n.Probe.Checks, ","),
				n.Probe.InitialDelay, n.Probe.Period, n.Probe.Timeout)
		}
		b.WriteByte('\n')
	}

	edges := g.Edges()
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})
	for _, e := range edges {
		fmt.Fprintf(&b, "e|%s|%s|%s\n", e.SourceID, e.TargetID, e.Condition)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return "plan-" + hex.EncodeToString(sum[:8])
}

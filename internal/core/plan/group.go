package plan

import (
	"sort"

	"github.com/industriverse/industriverse-sub007/internal/core/graph"
)

// =============================================================================
// Priority Grouping
// =============================================================================

// PhaseCandidate is an ordered group of node IDs destined to become one
// phase. Produced by GroupByPriority, consumed by Build.
type PhaseCandidate struct {
	// Priority is the effective priority of the node that opened the phase.
	Priority int

	// NodeIDs lists the phase members: layers first by (priority, ID),
	// then components sub-grouped per layer by (priority, ID).
	NodeIDs []string
}

// GroupByPriority partitions the topologically sorted nodes into ordered
// phase candidates.
//
// The scan walks the topological order and opens a new phase when either:
//   - the current node's effective priority is strictly greater than the
//     running phase's priority floor, or
//   - the current node has a dependency edge from a node already placed in
//     the running phase.
//
// The first rule gives priority-driven phase boundaries; the second
// guarantees no edge ever connects two nodes of the same phase, which is
// what makes intra-phase parallel execution safe. Because the scan order
// is the topological order, the resulting phase order respects every edge.
//
// Undeclared priorities resolve to the sentinel (graph.DefaultPriority)
// and therefore land in the last eligible phase; this is never an error.
func GroupByPriority(g *graph.Graph) []PhaseCandidate {
	var phases []PhaseCandidate
	current := map[string]bool{}

	flush := func() {
		if len(current) == 0 {
			return
		}
		last := &phases[len(phases)-1]
		last.NodeIDs = orderWithinPhase(g, current)
		current = map[string]bool{}
	}

	for _, node := range g.Sorted() {
		prio := node.EffectivePriority()

		boundary := len(phases) == 0 ||
			prio > phases[len(phases)-1].Priority ||
			hasPredecessorIn(g, node.ID, current)

		if boundary {
			flush()
			phases = append(phases, PhaseCandidate{Priority: prio})
		}
		current[node.ID] = true
	}
	flush()

	return phases
}

// hasPredecessorIn reports whether any predecessor of id is in the set.
func hasPredecessorIn(g *graph.Graph, id string, set map[string]bool) bool {
	for _, pred := range g.Predecessors(id) {
		if set[pred] {
			return true
		}
	}
	return false
}

// orderWithinPhase orders phase members: layers by (priority, ID) first,
// then components sub-grouped per layer by (priority, ID). Reordering
// inside a phase is safe precisely because no intra-phase edges exist.
func orderWithinPhase(g *graph.Graph, members map[string]bool) []string {
	var layers, components []graph.Node
	for id := range members {
		node, _ := g.Node(id)
		if node.Kind == graph.KindComponent {
			components = append(components, node)
		} else {
			layers = append(layers, node)
		}
	}

	sort.Slice(layers, func(i, j int) bool {
		pi, pj := layers[i].EffectivePriority(), layers[j].EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		return layers[i].ID < layers[j].ID
	})

	sort.Slice(components, func(i, j int) bool {
		if components[i].LayerID != components[j].LayerID {
			return components[i].LayerID < components[j].LayerID
		}
		pi, pj := components[i].EffectivePriority(), components[j].EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		return components[i].ID < components[j].ID
	})

	ids := make([]string, 0, len(layers)+len(components))
	for _, n := range layers {
		ids = append(ids, n.ID)
	}
	for _, n := range components {
		ids = append(ids, n.ID)
	}
	return ids
}

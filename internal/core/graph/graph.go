package graph

import "sort"

// =============================================================================
// Graph
// =============================================================================

// Graph is a validated, acyclic dependency graph. It is immutable after
// Build and safe to share across goroutines.
type Graph struct {
	nodes        map[string]Node
	edges        []Edge
	successors   map[string][]string
	predecessors map[string][]string
	order        []string // topological order, tie-break by ascending ID
}

// Build validates nodes and edges and constructs a Graph.
//
// Validation happens in one explicit step, before anything executes:
//  1. Node IDs must be unique (ErrDuplicateNode).
//  2. Every component's LayerID and every edge endpoint must reference an
//     existing node (DanglingReferenceError).
//  3. The edge set must form a DAG. Kahn's algorithm is run once here; if
//     it does not consume every node, the leftover IDs form at least one
//     cycle and are reported (CycleError).
func Build(nodes []Node, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	nodeMap := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, exists := nodeMap[n.ID]; exists {
			return nil, &duplicateNodeError{id: n.ID}
		}
		nodeMap[n.ID] = n
	}

	// Collect every unknown reference before failing, so the operator sees
	// the full set at once.
	missing := make(map[string]bool)
	for _, n := range nodes {
		if n.Kind == KindComponent && n.LayerID != "" {
			layer, ok := nodeMap[n.LayerID]
			if !ok || layer.Kind != KindLayer {
				missing[n.LayerID] = true
			}
		}
	}
	for _, e := range edges {
		if _, ok := nodeMap[e.SourceID]; !ok {
			missing[e.SourceID] = true
		}
		if _, ok := nodeMap[e.TargetID]; !ok {
			missing[e.TargetID] = true
		}
	}
	if len(missing) > 0 {
		return nil, &DanglingReferenceError{Refs: sortedKeys(missing)}
	}

	successors := make(map[string][]string, len(nodeMap))
	predecessors := make(map[string][]string, len(nodeMap))
	for _, e := range edges {
		successors[e.SourceID] = append(successors[e.SourceID], e.TargetID)
		predecessors[e.TargetID] = append(predecessors[e.TargetID], e.SourceID)
	}

	order, err := kahnSort(nodeMap, successors)
	if err != nil {
		return nil, err
	}

	return &Graph{
		nodes:        nodeMap,
		edges:        append([]Edge(nil), edges...),
		successors:   successors,
		predecessors: predecessors,
		order:        order,
	}, nil
}

// =============================================================================
// Accessors
// =============================================================================

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Sorted returns the nodes in topological order. The result is a fresh
// slice; callers may mutate it.
func (g *Graph) Sorted() []Node {
	result := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		result = append(result, g.nodes[id])
	}
	return result
}

// SortedIDs returns the node IDs in topological order.
func (g *Graph) SortedIDs() []string {
	return append([]string(nil), g.order...)
}

// Predecessors returns the IDs of the nodes that must precede id.
func (g *Graph) Predecessors(id string) []string {
	return append([]string(nil), g.predecessors[id]...)
}

// Successors returns the IDs of the nodes that depend on id.
func (g *Graph) Successors(id string) []string {
	return append([]string(nil), g.successors[id]...)
}

// EdgeBetween returns the edge from source to target, if one exists.
func (g *Graph) EdgeBetween(sourceID, targetID string) (Edge, bool) {
	for _, e := range g.edges {
		if e.SourceID == sourceID && e.TargetID == targetID {
			return e, true
		}
	}
	return Edge{}, false
}

// HasEdge reports whether an edge exists between a and b in either direction.
func (g *Graph) HasEdge(a, b string) bool {
	if _, ok := g.EdgeBetween(a, b); ok {
		return true
	}
	_, ok := g.EdgeBetween(b, a)
	return ok
}

// Edges returns a copy of the edge set.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// =============================================================================
// Helpers
// =============================================================================

type duplicateNodeError struct {
	id string
}

func (e *duplicateNodeError) Error() string {
	return "duplicate node id: " + e.id
}

func (e *duplicateNodeError) Unwrap() error {
	return ErrDuplicateNode
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package graph

import "sort"

// =============================================================================
// Topological Sort (Kahn's algorithm)
// =============================================================================

// kahnSort produces a total order of nodeMap consistent with all edges.
//
// The algorithm:
//  1. Compute the in-degree of every node.
//  2. Seed a ready set with all in-degree-0 nodes.
//  3. Repeatedly take the smallest-ID ready node, emit it, and decrement
//     the in-degree of its successors, adding any that reach 0.
//
// Ties are always broken by ascending node ID so that two invocations on
// the same input produce byte-identical output. Go map iteration order
// must never leak into the result.
//
// If the output is shorter than the node count, the leftover nodes form at
// least one cycle and a CycleError naming them is returned.
func kahnSort(nodeMap map[string]Node, successors map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodeMap))
	for id := range nodeMap {
		inDegree[id] = 0
	}
	for _, targets := range successors {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	var ready []string
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodeMap))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		// Successors are visited in sorted order so newly ready nodes are
		// discovered deterministically regardless of edge declaration order.
		next := append([]string(nil), successors[id]...)
		sort.Strings(next)
		for _, succ := range next {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = insertSorted(ready, succ)
			}
		}
	}

	if len(order) < len(nodeMap) {
		var remaining []string
		for id, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{NodeIDs: remaining}
	}

	return order, nil
}

// insertSorted inserts id into a sorted slice, keeping it sorted.
func insertSorted(sorted []string, id string) []string {
	i := sort.SearchStrings(sorted, id)
	sorted = append(sorted, "")
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = id
	return sorted
}

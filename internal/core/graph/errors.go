// Package graph holds the in-memory dependency graph of deployable units
// and its topological sort. Everything here is pure: no I/O, no clocks.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrDanglingReference is returned when an edge or a component
	// references a node that does not exist.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrCycleDetected is returned when the edge set contains a cycle.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrDuplicateNode is returned when two nodes share an ID.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrEmptyGraph is returned when Build is called with no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")
)

// DanglingReferenceError reports the unknown IDs referenced by edges or
// component layer links. Refs is sorted and deduplicated.
type DanglingReferenceError struct {
	Refs []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("dangling reference: unknown node(s) %s", strings.Join(e.Refs, ", "))
}

func (e *DanglingReferenceError) Unwrap() error {
	return ErrDanglingReference
}

// CycleError reports the minimal set of node IDs that could not be ordered.
// NodeIDs is sorted.
type CycleError struct {
	NodeIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among node(s) %s", strings.Join(e.NodeIDs, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

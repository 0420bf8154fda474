package manifest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/industriverse/industriverse-sub007/internal/core/graph"
)

// =============================================================================
// Parse Result
// =============================================================================

// ParseResult carries the typed model plus non-fatal warnings. Warnings
// are values, not log calls, so the shell decides where they go.
type ParseResult struct {
	Nodes    []graph.Node
	Edges    []graph.Edge
	Warnings []string
}

// =============================================================================
// Parser
// =============================================================================

// Parse converts manifest YAML into Node and Edge lists.
//
// Validation performed here:
//   - document must be well-formed YAML with no unknown fields
//   - at least one layer, every unit named, names unique manifest-wide
//   - dependencies name exactly one of layer/component with a known condition
//   - probes have an endpoint (http) or sub-checks (aggregate)
//
// Dependency targets are carried through as edge endpoints without
// resolution; graph.Build reports unknown targets as dangling references.
// A missing priority resolves to the deploy-last sentinel and produces a
// warning, never an error.
func Parse(content string) (*ParseResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}

	var m Manifest
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if len(m.Layers) == 0 {
		return nil, ErrNoLayers
	}

	result := &ParseResult{}
	seen := map[string]bool{}

	for _, layer := range m.Layers {
		if layer.Name == "" {
			return nil, ErrMissingName
		}
		if seen[layer.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, layer.Name)
		}
		seen[layer.Name] = true

		if layer.Priority <= 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("layer %q declares no priority, defaulting to %d (deploys last)",
					layer.Name, graph.DefaultPriority))
		}

		result.Nodes = append(result.Nodes, graph.Node{
			ID:       layer.Name,
			Kind:     graph.KindLayer,
			Priority: layer.Priority,
			Version:  layer.Version,
		})

		edges, err := convertDependencies(layer.Name, layer.Dependencies)
		if err != nil {
			return nil, err
		}
		result.Edges = append(result.Edges, edges...)

		for _, comp := range layer.Components {
			if comp.Name == "" {
				return nil, fmt.Errorf("%w: in layer %q", ErrMissingName, layer.Name)
			}
			if seen[comp.Name] {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateName, comp.Name)
			}
			seen[comp.Name] = true

			if comp.Priority <= 0 {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("component %q declares no priority, defaulting to %d (deploys last)",
						comp.Name, graph.DefaultPriority))
			}

			probe, err := convertProbe(comp.Name, comp.ReadinessProbe)
			if err != nil {
				return nil, err
			}

			result.Nodes = append(result.Nodes, graph.Node{
				ID:       comp.Name,
				Kind:     graph.KindComponent,
				LayerID:  layer.Name,
				Priority: comp.Priority,
				Version:  comp.Version,
				Probe:    probe,
			})

			edges, err := convertDependencies(comp.Name, comp.Dependencies)
			if err != nil {
				return nil, err
			}
			result.Edges = append(result.Edges, edges...)
		}
	}

	return result, nil
}

// =============================================================================
// Converters
// =============================================================================

// convertDependencies turns dependency specs into edges pointing at the
// dependent unit.
func convertDependencies(dependent string, deps []DependencySpec) ([]graph.Edge, error) {
	var edges []graph.Edge
	for _, dep := range deps {
		source := dep.Layer
		switch {
		case dep.Layer != "" && dep.Component != "":
			return nil, fmt.Errorf("%w: dependency of %q names both %q and %q",
				ErrInvalidDependency, dependent, dep.Layer, dep.Component)
		case dep.Layer == "" && dep.Component == "":
			return nil, fmt.Errorf("%w: dependency of %q", ErrInvalidDependency, dependent)
		case dep.Component != "":
			source = dep.Component
		}

		condition, err := convertCondition(dependent, dep.Condition)
		if err != nil {
			return nil, err
		}

		edges = append(edges, graph.Edge{
			SourceID:  source,
			TargetID:  dependent,
			Condition: condition,
		})
	}
	return edges, nil
}

func convertCondition(dependent, raw string) (graph.Condition, error) {
	switch graph.Condition(raw) {
	case "":
		return graph.ConditionReady, nil
	case graph.ConditionReady, graph.ConditionSuccess, graph.ConditionExists:
		return graph.Condition(raw), nil
	default:
		return "", fmt.Errorf("%w: %q on dependency of %q", ErrInvalidCondition, raw, dependent)
	}
}

func convertProbe(unit string, p *ProbeSpec) (*graph.ProbeSpec, error) {
	if p == nil {
		return nil, nil
	}

	spec := &graph.ProbeSpec{
		Endpoint:     p.Endpoint,
		Checks:       append([]string(nil), p.Checks...),
		InitialDelay: p.InitialDelay.Std(),
		Period:       p.Period.Std(),
		Timeout:      p.Timeout.Std(),
	}

	switch p.Type {
	case "", string(graph.ProbeHTTP):
		if p.Endpoint == "" {
			return nil, fmt.Errorf("%w: http probe of %q has no endpoint", ErrInvalidProbe, unit)
		}
		spec.Type = graph.ProbeHTTP
	case string(graph.ProbeAggregate):
		if len(p.Checks) == 0 {
			return nil, fmt.Errorf("%w: aggregate probe of %q has no checks", ErrInvalidProbe, unit)
		}
		spec.Type = graph.ProbeAggregate
	case string(graph.ProbeNone):
		spec.Type = graph.ProbeNone
	default:
		return nil, fmt.Errorf("%w: unknown probe type %q on %q", ErrInvalidProbe, p.Type, unit)
	}

	return spec, nil
}

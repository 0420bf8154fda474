package manifest

import "errors"

// =============================================================================
// Parse Errors
// =============================================================================

var (
	// ErrEmptyInput is returned when the manifest is empty or whitespace.
	ErrEmptyInput = errors.New("manifest is empty")

	// ErrNoLayers is returned when the manifest declares no layers.
	ErrNoLayers = errors.New("manifest declares no layers")

	// ErrMissingName is returned when a layer or component has no name.
	ErrMissingName = errors.New("layer or component is missing a name")

	// ErrDuplicateName is returned when two units share a name. Names are
	// node IDs, so they must be unique across the whole manifest.
	ErrDuplicateName = errors.New("duplicate unit name")

	// ErrInvalidYAML is returned when the document is not valid YAML or
	// contains unknown fields.
	ErrInvalidYAML = errors.New("invalid manifest yaml")

	// ErrInvalidDependency is returned when a dependency names neither a
	// layer nor a component, or names both.
	ErrInvalidDependency = errors.New("dependency must name exactly one of layer or component")

	// ErrInvalidCondition is returned for a condition outside
	// ready/success/exists.
	ErrInvalidCondition = errors.New("invalid dependency condition")

	// ErrInvalidProbe is returned for a malformed readiness probe.
	ErrInvalidProbe = errors.New("invalid readiness probe")

	// ErrInvalidDuration is returned for an unparseable duration value.
	ErrInvalidDuration = errors.New("invalid duration")
)

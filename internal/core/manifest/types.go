// Package manifest parses the rollout manifest YAML into the typed
// Node/Edge model. Parsing is pure: malformed input is rejected here, in
// one explicit construction step, before anything executes.
package manifest

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Manifest Schema
// =============================================================================

// Manifest is the top-level rollout manifest document.
type Manifest struct {
	Layers []LayerSpec `yaml:"layers"`
}

// LayerSpec declares one layer and its components.
type LayerSpec struct {
	Name         string           `yaml:"name"`
	Priority     int              `yaml:"priority,omitempty"`
	Version      string           `yaml:"version,omitempty"`
	Dependencies []DependencySpec `yaml:"dependencies,omitempty"`
	Components   []ComponentSpec  `yaml:"components,omitempty"`
}

// ComponentSpec declares one component within a layer.
type ComponentSpec struct {
	Name           string           `yaml:"name"`
	Priority       int              `yaml:"priority,omitempty"`
	Version        string           `yaml:"version,omitempty"`
	Dependencies   []DependencySpec `yaml:"dependencies,omitempty"`
	ReadinessProbe *ProbeSpec       `yaml:"readinessProbe,omitempty"`
}

// DependencySpec names a unit this one depends on. Exactly one of Layer or
// Component must be set.
type DependencySpec struct {
	Layer     string `yaml:"layer,omitempty"`
	Component string `yaml:"component,omitempty"`
	Condition string `yaml:"condition,omitempty"` // ready (default), success, exists
}

// ProbeSpec declares a readiness probe.
type ProbeSpec struct {
	Type         string   `yaml:"type"` // http, aggregate
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Checks       []string `yaml:"checks,omitempty"`
	InitialDelay Duration `yaml:"initialDelay,omitempty"`
	Period       Duration `yaml:"period,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty"`
}

// =============================================================================
// Duration
// =============================================================================

// Duration unmarshals either a Go duration string ("30s") or a bare
// integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDuration, value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

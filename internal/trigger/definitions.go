package trigger

import (
	"fmt"
	"os"
	"time"

	"boardroom/internal/registry"
	"boardroom/internal/types"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "5m").
type Duration time.Duration

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Definition is one configured coordination trigger. Read-only at runtime
// except for the active flag, which the engine owns.
type Definition struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	SessionType types.SessionType `yaml:"session_type"`
	Priority    types.Priority    `yaml:"priority"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`

	// Conditions maps gauge names to the minimum value at which the
	// condition holds. All conditions must hold for the trigger to fire.
	Conditions map[string]float64 `yaml:"conditions"`

	RequiredRoles []types.Role `yaml:"required_roles"`
	OptionalRoles []types.Role `yaml:"optional_roles"`

	Active       bool `yaml:"active"`
	AutoInitiate bool `yaml:"auto_initiate"`

	// Cooldown is the minimum interval between fires of this trigger.
	// Zero falls back to the engine-wide default.
	Cooldown Duration `yaml:"cooldown"`
}

// Validate rejects malformed or misconfigured definitions. A trigger
// referencing an unregistered role is a startup error, not a runtime one.
func (d Definition) Validate(reg *registry.Registry) error {
	if d.ID == "" {
		return fmt.Errorf("trigger definition missing id")
	}
	if len(d.Conditions) == 0 {
		return fmt.Errorf("trigger %q: no conditions", d.ID)
	}
	if len(d.RequiredRoles) == 0 {
		return fmt.Errorf("trigger %q: no required roles", d.ID)
	}
	for _, role := range append(append([]types.Role(nil), d.RequiredRoles...), d.OptionalRoles...) {
		if !role.Valid() {
			return fmt.Errorf("trigger %q references role %q: %w", d.ID, role, types.ErrUnsupportedRole)
		}
		if reg != nil && !reg.Registered(role) {
			return fmt.Errorf("trigger %q references unregistered role %q: %w", d.ID, role, types.ErrUnsupportedRole)
		}
	}
	return nil
}

// definitionsFile is the on-disk shape of .boardroom/triggers.yaml.
type definitionsFile struct {
	Triggers []Definition `yaml:"triggers"`
}

// LoadDefinitions reads trigger definitions from a YAML file. A missing
// file yields an empty set; a malformed one is an error.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trigger definitions: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse trigger definitions %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Triggers))
	for _, def := range file.Triggers {
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate trigger id %q in %s", def.ID, path)
		}
		seen[def.ID] = true
	}
	return file.Triggers, nil
}

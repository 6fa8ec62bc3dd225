// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Descriptor identifies one plugin to the host. It is produced by a loader
// and is immutable once the plugin is loaded.
type Descriptor struct {
	// ID is the unique, stable plugin identifier.
	ID string `json:"id" yaml:"id" koanf:"id" jsonschema:"required"`
	// Entry locates the plugin implementation: "<executable>[:<Definition>]"
	// or "lua:<script>".
	Entry string `json:"entry" yaml:"entry" koanf:"entry" jsonschema:"required"`
	// ConfigPath is handed to the plugin untouched.
	ConfigPath string `json:"config_path,omitempty" yaml:"config_path,omitempty" koanf:"config_path"`

	Name        string `json:"name,omitempty" yaml:"name,omitempty" koanf:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" koanf:"description"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty" koanf:"version"`
	// Requires is a semver constraint the host version must satisfy.
	Requires string `json:"requires,omitempty" yaml:"requires,omitempty" koanf:"requires"`
	// Entries declares entries that have no in-code registration.
	Entries []EntryMeta `json:"entries,omitempty" yaml:"entries,omitempty" koanf:"entries"`
	// Grants are glob patterns over "entry.<id>" naming what callers may
	// trigger. Empty means everything.
	Grants []string `json:"grants,omitempty" yaml:"grants,omitempty" koanf:"grants"`
}

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 64

// idPattern: lowercase letter first, then lowercase letters, digits or
// hyphens, not ending with a hyphen.
var idPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Validate checks descriptor constraints.
func (d Descriptor) Validate() error {
	if d.ID == "" || !idPattern.MatchString(d.ID) {
		return fmt.Errorf("id %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", d.ID)
	}
	if len(d.ID) > maxIDLength {
		return fmt.Errorf("id must be %d characters or less, got %d", maxIDLength, len(d.ID))
	}
	if d.Entry == "" {
		return fmt.Errorf("plugin %s: entry locator is required", d.ID)
	}
	if d.Version != "" {
		if _, err := semver.NewVersion(d.Version); err != nil {
			return fmt.Errorf("plugin %s: invalid version %q: %w", d.ID, d.Version, err)
		}
	}
	if d.Requires != "" {
		if _, err := semver.NewConstraint(d.Requires); err != nil {
			return fmt.Errorf("plugin %s: invalid requires constraint %q: %w", d.ID, d.Requires, err)
		}
	}
	seen := make(map[string]struct{}, len(d.Entries))
	for i, e := range d.Entries {
		if e.ID == "" {
			return fmt.Errorf("plugin %s: entries[%d]: id is required", d.ID, i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("plugin %s: entries[%d]: duplicate id %q", d.ID, i, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Compatible reports whether hostVersion satisfies the descriptor's
// Requires constraint. An empty constraint or a non-semver host version
// ("dev" builds) is always compatible.
func (d Descriptor) Compatible(hostVersion string) (bool, error) {
	if d.Requires == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(d.Requires)
	if err != nil {
		return false, fmt.Errorf("invalid requires constraint %q: %w", d.Requires, err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return true, nil //nolint:nilerr // development builds skip the check
	}
	return c.Check(v), nil
}

// DisplayName returns Name, falling back to ID.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability decides which plugin entries callers may trigger.
//
// A descriptor's grants are gobwas/glob patterns over capability names of
// the form "entry.<id>", with '.' as the segment separator:
//   - '*' matches a single segment: "entry.*" matches "entry.say"
//   - '**' matches zero or more segments: "**" matches everything
//
// A plugin with no grants is unrestricted.
package capability

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// EntryPrefix prefixes the capability name of every entry.
const EntryPrefix = "entry."

// ForEntry returns the capability name guarding entryID.
func ForEntry(entryID string) string {
	return EntryPrefix + entryID
}

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds compiled grants per plugin. It is safe for concurrent use
// and the zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

// SetGrants replaces pluginID's grants. Patterns are compiled before any
// state changes, so an invalid pattern leaves the enforcer untouched. An
// empty list removes the restriction.
func (e *Enforcer) SetGrants(pluginID string, patterns []string) error {
	errb := oops.In("capability").With("plugin", pluginID)
	if pluginID == "" {
		return errb.Errorf("plugin id cannot be empty")
	}
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return errb.With("index", i).Errorf("grant %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return errb.With("index", i).With("pattern", pattern).Wrapf(err, "grant %d", i)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	if len(compiled) == 0 {
		delete(e.grants, pluginID)
		return nil
	}
	e.grants[pluginID] = compiled
	return nil
}

// RemoveGrants forgets pluginID. Safe for unknown plugins.
func (e *Enforcer) RemoveGrants(pluginID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, pluginID)
}

// Grants returns a copy of pluginID's patterns, or nil when unrestricted.
func (e *Enforcer) Grants(pluginID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	grants, ok := e.grants[pluginID]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Restricted reports whether pluginID has any grants.
func (e *Enforcer) Restricted(pluginID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[pluginID]
	return ok
}

// Check reports whether pluginID may use capability. Unrestricted plugins
// allow everything; an empty capability is always denied.
func (e *Enforcer) Check(pluginID, capability string) bool {
	if capability == "" {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	grants, ok := e.grants[pluginID]
	if !ok {
		return true
	}
	for _, g := range grants {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}

// AllowsEntry reports whether entryID of pluginID may be triggered.
func (e *Enforcer) AllowsEntry(pluginID, entryID string) bool {
	return e.Check(pluginID, ForEntry(entryID))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability gates privileged host operations behind per-plugin
// grants.
//
// Grants are gobwas/glob patterns with '.' as the segment separator:
//   - '*' matches a single segment: "plugin.*" matches "plugin.load"
//   - '**' matches any number of segments: "**" matches everything
package capability

import (
	"slices"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// CodeDenied is the error code returned by Require.
const CodeDenied = "CAPABILITY_DENIED"

// Capabilities checked by the host.
const (
	PluginLoad   = "plugin.load"
	PluginUnload = "plugin.unload"
)

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin capabilities at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant
	mu     sync.RWMutex
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants replaces the grants of plugin. Either every pattern compiles
// and all are installed, or nothing changes.
func (e *Enforcer) SetGrants(plugin string, patterns []string) error {
	if plugin == "" {
		return oops.In("capability").Errorf("plugin name cannot be empty")
	}

	compiled, err := compile(plugin, patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// AddGrants appends grants to whatever plugin already holds.
func (e *Enforcer) AddGrants(plugin string, patterns []string) error {
	if plugin == "" {
		return oops.In("capability").Errorf("plugin name cannot be empty")
	}

	compiled, err := compile(plugin, patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = append(e.grants[plugin], compiled...)
	return nil
}

func compile(plugin string, patterns []string) ([]compiledGrant, error) {
	out := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, oops.In("capability").With("plugin", plugin).
				Errorf("capability %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.In("capability").With("plugin", plugin).With("pattern", pattern).
				Wrapf(err, "capability %d", i)
		}
		out[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return out, nil
}

// RemoveGrants forgets plugin. Unknown names are ignored.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Grants returns a copy of the patterns granted to plugin, or nil.
func (e *Enforcer) Grants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Plugins returns the registered plugin names, sorted.
func (e *Enforcer) Plugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.grants))
	for name := range e.grants {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Check reports whether plugin holds capability. Empty capabilities and
// unknown plugins are denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[plugin] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Require returns a CAPABILITY_DENIED error unless plugin holds capability.
func (e *Enforcer) Require(plugin, capability string) error {
	if e.Check(plugin, capability) {
		return nil
	}
	return oops.Code(CodeDenied).
		In("capability").
		With("plugin", plugin).
		With("capability", capability).
		Errorf("plugin %q lacks capability %q", plugin, capability)
}

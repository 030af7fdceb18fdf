// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginapi defines the contract between the plugin host and the
// plugins it loads.
//
// A plugin publishes a Descriptor about itself, receives a Host at
// initialization, and hands the host Callback handles for events and timers.
// The same contract is used by in-process plugins, Lua scripts, and binary
// plugins served through pkg/pluginsdk.
package pluginapi

import "strings"

// ABIVersion is the boundary contract version this host speaks.
// Plugins declaring any other value are rejected before any call into them.
const ABIVersion uint32 = 1

// MaxDependencySlots is the dependency capacity of the fixed-slot wire layout.
const MaxDependencySlots = 128

// Priority is a coarse load-ordering bucket.
type Priority int

// Priority buckets, loaded in ascending order when dependencies allow.
const (
	PriorityFirst   Priority = 0
	PriorityDefault Priority = 1
	PriorityLater   Priority = 2
)

// Valid reports whether p is one of the recognized buckets.
func (p Priority) Valid() bool {
	return p >= PriorityFirst && p <= PriorityLater
}

// Normalize returns p, or PriorityDefault when p is not a recognized bucket.
func (p Priority) Normalize() Priority {
	if !p.Valid() {
		return PriorityDefault
	}
	return p
}

// String returns the lower-case bucket name.
func (p Priority) String() string {
	switch p {
	case PriorityFirst:
		return "first"
	case PriorityDefault:
		return "default"
	case PriorityLater:
		return "later"
	default:
		return "invalid"
	}
}

// ParsePriority converts a manifest priority name to a Priority.
// The empty string means default. The boolean is false for unknown names.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first":
		return PriorityFirst, true
	case "", "default":
		return PriorityDefault, true
	case "later":
		return PriorityLater, true
	default:
		return PriorityDefault, false
	}
}

// DependencyKind says whether a dependency must be present.
type DependencyKind int

// Dependency kinds.
const (
	Required DependencyKind = 0
	Optional DependencyKind = 1
)

// IsOptional reports whether the dependency may be absent.
// Unrecognized kinds are treated as required.
func (k DependencyKind) IsOptional() bool {
	return k == Optional
}

// String returns "required" or "optional".
func (k DependencyKind) String() string {
	if k.IsOptional() {
		return "optional"
	}
	return "required"
}

// ParseDependencyKind converts a manifest kind name. Empty means required.
func ParseDependencyKind(s string) (DependencyKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "required":
		return Required, true
	case "optional":
		return Optional, true
	default:
		return Required, false
	}
}

// Dependency names another plugin this plugin wants loaded before it.
type Dependency struct {
	Name string
	Kind DependencyKind
	// Constraint is an optional semantic version range the target's
	// Version must satisfy, e.g. ">= 1.2".
	Constraint string
}

// Descriptor is the immutable self-description a plugin exposes.
type Descriptor struct {
	Name         string
	Version      string
	ABIVersion   uint32
	Priority     Priority
	Dependencies []Dependency
}

// ScanDependencySlots reads a fixed-slot dependency array: entries are taken
// in order until the first empty name or MaxDependencySlots entries.
func ScanDependencySlots(slots []Dependency) []Dependency {
	n := min(len(slots), MaxDependencySlots)
	deps := make([]Dependency, 0, n)
	for _, d := range slots[:n] {
		if d.Name == "" {
			break
		}
		deps = append(deps, d)
	}
	return deps
}

// Clone returns a deep copy so callers can keep descriptors without sharing
// the dependency slice with the plugin.
func (d Descriptor) Clone() Descriptor {
	out := d
	if d.Dependencies != nil {
		out.Dependencies = append([]Dependency(nil), d.Dependencies...)
	}
	return out
}

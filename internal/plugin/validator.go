// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Validator admits descriptors for one discovery pass. It remembers the
// names it has accepted so later duplicates are rejected.
type Validator struct {
	abi      uint32
	accepted map[string]struct{}
}

// NewValidator creates a validator for the host's ABI version.
func NewValidator() *Validator {
	return NewValidatorForABI(pluginapi.ABIVersion)
}

// NewValidatorForABI creates a validator for a specific ABI version.
func NewValidatorForABI(abi uint32) *Validator {
	return &Validator{
		abi:      abi,
		accepted: make(map[string]struct{}),
	}
}

// Accept marks name as taken without validating a descriptor, e.g. for
// plugins already loaded before this pass.
func (v *Validator) Accept(name string) {
	v.accepted[name] = struct{}{}
}

// Validate checks d and returns its normalized form. Checks run in order:
// ABI version, then name presence and uniqueness. An unknown priority
// becomes PriorityDefault and dependencies with empty names are dropped.
func (v *Validator) Validate(d pluginapi.Descriptor) (pluginapi.Descriptor, error) {
	if d.ABIVersion != v.abi {
		return pluginapi.Descriptor{}, oops.Code(CodeABIMismatch).
			In("plugin").
			With("plugin", d.Name).
			With("abi_version", d.ABIVersion).
			With("host_abi_version", v.abi).
			Errorf("plugin %q declares ABI version %d, host supports %d", d.Name, d.ABIVersion, v.abi)
	}

	if d.Name == "" {
		return pluginapi.Descriptor{}, oops.Code(CodeInvalidName).
			In("plugin").
			Errorf("plugin name must not be empty")
	}
	if _, dup := v.accepted[d.Name]; dup {
		return pluginapi.Descriptor{}, oops.Code(CodeDuplicateName).
			In("plugin").
			With("plugin", d.Name).
			Errorf("plugin name %q is already taken", d.Name)
	}

	out := d.Clone()
	if !d.Priority.Valid() {
		slog.Debug("unknown plugin priority, using default",
			"plugin", d.Name,
			"priority", int(d.Priority))
		out.Priority = pluginapi.PriorityDefault
	}

	deps := out.Dependencies[:0]
	for _, dep := range out.Dependencies {
		if dep.Name == "" {
			continue
		}
		deps = append(deps, dep)
	}
	out.Dependencies = deps

	v.accepted[d.Name] = struct{}{}
	return out, nil
}

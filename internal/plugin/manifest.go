// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin admits plugins into the host: it parses manifests, validates
// descriptors, and resolves the order in which plugins are initialized.
package plugin

import (
	"regexp"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Type identifies the plugin runtime.
type Type string

// Plugin types supported by the system.
const (
	TypeLua    Type = "lua"
	TypeBinary Type = "binary"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name    string `json:"name" yaml:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version string `json:"version" yaml:"version"`
	// ABIVersion defaults to the host's ABI version when omitted.
	ABIVersion   uint32               `json:"abi-version,omitempty" yaml:"abi-version,omitempty"`
	Priority     string               `json:"priority,omitempty" yaml:"priority,omitempty" jsonschema:"enum=first,enum=default,enum=later"`
	Dependencies []ManifestDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Type         Type                 `json:"type" yaml:"type" jsonschema:"enum=lua,enum=binary"`
	Capabilities []string             `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	LuaPlugin    *LuaConfig           `json:"lua-plugin,omitempty" yaml:"lua-plugin,omitempty"`
	BinaryPlugin *BinaryConfig        `json:"binary-plugin,omitempty" yaml:"binary-plugin,omitempty"`
}

// ManifestDependency is one entry of the dependencies list.
type ManifestDependency struct {
	Name    string `json:"name" yaml:"name"`
	Kind    string `json:"kind,omitempty" yaml:"kind,omitempty" jsonschema:"enum=required,enum=optional"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `json:"entry" yaml:"entry"`
}

// BinaryConfig holds binary plugin configuration.
type BinaryConfig struct {
	Executable string `json:"executable" yaml:"executable"`
}

const maxNameLength = 64

// namePattern: lowercase letter first, then lowercase letters, digits or
// hyphens, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ValidName reports whether name is acceptable for a manifest plugin.
func ValidName(name string) bool {
	return len(name) <= maxNameLength && namePattern.MatchString(name)
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code(CodeManifestInvalid).In("plugin").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeManifestInvalid).In("plugin").Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	invalid := oops.Code(CodeManifestInvalid).In("plugin").With("plugin", m.Name)

	if !ValidName(m.Name) {
		return oops.Code(CodeInvalidName).In("plugin").With("plugin", m.Name).
			Errorf("name %q must be at most %d characters, start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen",
				m.Name, maxNameLength)
	}

	if m.Version == "" {
		return invalid.Errorf("version is required")
	}

	if _, ok := pluginapi.ParsePriority(m.Priority); !ok {
		return invalid.Errorf("priority must be first, default or later, got %q", m.Priority)
	}

	for i, dep := range m.Dependencies {
		if dep.Name == "" {
			return invalid.Errorf("dependencies[%d].name is required", i)
		}
		if _, ok := pluginapi.ParseDependencyKind(dep.Kind); !ok {
			return invalid.Errorf("dependencies[%d].kind must be required or optional, got %q", i, dep.Kind)
		}
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			return invalid.Errorf("lua-plugin is required when type is lua")
		}
		if m.LuaPlugin.Entry == "" {
			return invalid.Errorf("lua-plugin.entry is required")
		}
	case TypeBinary:
		if m.BinaryPlugin == nil {
			return invalid.Errorf("binary-plugin is required when type is binary")
		}
		if m.BinaryPlugin.Executable == "" {
			return invalid.Errorf("binary-plugin.executable is required")
		}
	default:
		return invalid.Errorf("type must be 'lua' or 'binary', got %q", m.Type)
	}

	return nil
}

// Descriptor converts the manifest into the descriptor a manifest-backed
// plugin reports.
func (m *Manifest) Descriptor() pluginapi.Descriptor {
	prio, _ := pluginapi.ParsePriority(m.Priority)
	abi := m.ABIVersion
	if abi == 0 {
		abi = pluginapi.ABIVersion
	}

	d := pluginapi.Descriptor{
		Name:       m.Name,
		Version:    m.Version,
		ABIVersion: abi,
		Priority:   prio,
	}
	for _, dep := range m.Dependencies {
		kind, _ := pluginapi.ParseDependencyKind(dep.Kind)
		d.Dependencies = append(d.Dependencies, pluginapi.Dependency{
			Name:       dep.Name,
			Kind:       kind,
			Constraint: dep.Version,
		})
	}
	return d
}

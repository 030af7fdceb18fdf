// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// Manager discovers manifest-backed plugins in a directory.
type Manager struct {
	pluginsDir string
	loaders    map[Type]Loader
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLoader registers the loader for a plugin type.
func WithLoader(t Type, l Loader) ManagerOption {
	return func(m *Manager) {
		m.loaders[t] = l
	}
}

// NewManager creates a plugin manager.
func NewManager(pluginsDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		loaders:    make(map[Type]Loader),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Discover reads <dir>/*/plugin.yaml in directory-name order. Directories
// without a valid manifest are reported as failures keyed by directory name
// and do not stop the scan. A missing plugins directory yields nothing.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredPlugin, []Failure, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var (
		found    []*DiscoveredPlugin
		failures []Failure
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(m.pluginsDir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFile)

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			slog.Warn("skipping plugin without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		manifest, err := parseChecked(data)
		if err != nil {
			slog.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", FormatSchemaError(err))
			failures = append(failures, Failure{Plugin: entry.Name(), Err: err})
			continue
		}

		found = append(found, &DiscoveredPlugin{
			Manifest: manifest,
			Dir:      pluginDir,
		})
	}

	return found, failures, nil
}

func parseChecked(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// Candidates discovers plugins and opens each with the loader for its type.
// Plugins that cannot be opened are reported as failures.
func (m *Manager) Candidates(ctx context.Context) ([]*Candidate, []Failure, error) {
	discovered, failures, err := m.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}

	candidates := make([]*Candidate, 0, len(discovered))
	for _, dp := range discovered {
		c, err := m.Open(ctx, dp)
		if err != nil {
			failures = append(failures, Failure{Plugin: dp.Manifest.Name, Err: err})
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, failures, nil
}

// Open turns one discovered plugin into a candidate.
func (m *Manager) Open(ctx context.Context, dp *DiscoveredPlugin) (*Candidate, error) {
	loader, ok := m.loaders[dp.Manifest.Type]
	if !ok {
		return nil, oops.Code(CodeRuntimeUnavailable).
			In("plugin").
			With("plugin", dp.Manifest.Name).
			With("type", dp.Manifest.Type).
			Errorf("no loader for %s plugins", dp.Manifest.Type)
	}

	c, err := loader.Open(ctx, dp.Manifest, dp.Dir)
	if err != nil {
		return nil, oops.Code(CodeInitFailed).
			In("plugin").
			With("plugin", dp.Manifest.Name).
			With("dir", dp.Dir).
			Wrapf(err, "open %s plugin", dp.Manifest.Type)
	}
	if c.Dir == "" {
		c.Dir = dp.Dir
	}
	if c.Capabilities == nil {
		c.Capabilities = dp.Manifest.Capabilities
	}

	slog.Debug("opened plugin",
		"plugin", dp.Manifest.Name,
		"type", dp.Manifest.Type,
		"version", dp.Manifest.Version)
	return c, nil
}

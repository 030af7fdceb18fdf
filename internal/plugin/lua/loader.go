// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
)

// Loader opens Lua plugins described by manifests.
type Loader struct {
	factory *StateFactory
}

var _ plugin.Loader = (*Loader)(nil)

// NewLoader creates a Lua loader. A nil factory uses the default sandbox.
func NewLoader(factory *StateFactory) *Loader {
	if factory == nil {
		factory = NewStateFactory()
	}
	return &Loader{factory: factory}
}

// Open reads and compiles the entry script. The script itself runs at Init.
func (l *Loader) Open(_ context.Context, m *plugin.Manifest, dir string) (*plugin.Candidate, error) {
	errb := oops.In("lua").With("plugin", m.Name).With("operation", "open")

	if m.LuaPlugin == nil {
		return nil, errb.Errorf("plugin %s is not a lua plugin", m.Name)
	}

	entryPath := filepath.Join(dir, m.LuaPlugin.Entry)
	rel, err := filepath.Rel(dir, entryPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, errb.With("entry", m.LuaPlugin.Entry).Errorf("entry must stay inside the plugin directory")
	}

	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, errb.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	proto, err := Compile(m.LuaPlugin.Entry, code)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	p := NewPlugin(m.Descriptor(), m.LuaPlugin.Entry, proto, l.factory)
	c := plugin.NewCandidate(p, plugin.SourceLua)
	c.Dir = dir
	c.Capabilities = m.Capabilities
	return c, nil
}

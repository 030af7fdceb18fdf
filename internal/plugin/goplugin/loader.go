// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin loads binary plugins through HashiCorp's go-plugin.
// Each plugin runs in its own process and is served by pkg/pluginsdk.
package goplugin

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/pkg/pluginsdk"
)

// PluginClient wraps a go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol, starting the process if needed.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory starts real plugin processes.
type DefaultClientFactory struct {
	// Logger receives go-plugin and plugin stderr output. Nil discards it.
	Logger hclog.Logger
}

// NewClient creates a go-plugin client for execPath over net/rpc.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	logger := f.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "plugin", Output: io.Discard})
	}
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginMap(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from a validated manifest
		Logger:           logger,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// NewLogger returns an hclog logger writing to w at level, in JSON when
// json is set.
func NewLogger(w io.Writer, level string, json bool) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "plugin",
		Output:     w,
		Level:      hclog.LevelFromString(level),
		JSONFormat: json,
	})
}

// Loader opens binary plugins.
type Loader struct {
	factory ClientFactory
}

var _ plugin.Loader = (*Loader)(nil)

// NewLoader creates a loader using factory, or real processes when nil.
func NewLoader(factory ClientFactory) *Loader {
	if factory == nil {
		factory = &DefaultClientFactory{}
	}
	return &Loader{factory: factory}
}

// Open starts the plugin process and asks it to describe itself. The
// process is killed when the candidate is released.
func (l *Loader) Open(_ context.Context, m *plugin.Manifest, dir string) (*plugin.Candidate, error) {
	errb := oops.In("goplugin").With("plugin", m.Name)

	if m.BinaryPlugin == nil {
		return nil, errb.Errorf("plugin %s is not a binary plugin", m.Name)
	}

	execPath := filepath.Join(dir, m.BinaryPlugin.Executable)
	if _, err := os.Stat(execPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errb.With("path", execPath).Wrapf(err, "plugin executable not found")
		}
		return nil, errb.With("path", execPath).Wrapf(err, "cannot access plugin executable")
	}

	client := l.factory.NewClient(execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "connect to plugin")
	}

	raw, err := rpcClient.Dispense(pluginsdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "dispense plugin")
	}

	remote, ok := raw.(*pluginsdk.PluginClient)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("plugin %s dispensed %T", m.Name, raw)
	}

	desc, err := remote.Describe()
	if err != nil {
		client.Kill()
		return nil, errb.Wrap(err)
	}
	if desc.Name != m.Name {
		client.Kill()
		return nil, errb.With("reported", desc.Name).
			Errorf("plugin reports name %q, manifest says %q", desc.Name, m.Name)
	}

	c := plugin.NewCandidate(remote, plugin.SourceBinary)
	c.Dir = dir
	c.Capabilities = m.Capabilities
	c.OnRelease(func() error {
		client.Kill()
		return nil
	})
	return c, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package builtin provides the in-process reference plugins shipped with
// the host: heartbeat, logger, echo, manager, console and config.
package builtin

import (
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Version is reported by every builtin plugin.
const Version = "1.0.0"

// DefaultHeartbeatInterval is used when Options leaves it unset.
const DefaultHeartbeatInterval = time.Second

// Options configures the builtin plugins.
type Options struct {
	// HeartbeatInterval is the heartbeat period.
	HeartbeatInterval time.Duration
	// ConfigFile is the key=value file read by the config plugin.
	ConfigFile string
	// Console receives console output. Nil means stdout.
	Console io.Writer
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.Console == nil {
		o.Console = os.Stdout
	}
	return o
}

type entry struct {
	build        func(Options) pluginapi.Plugin
	capabilities []string
}

var registry = map[string]entry{
	HeartbeatName: {build: func(o Options) pluginapi.Plugin { return NewHeartbeat(o.HeartbeatInterval) }},
	LoggerName:    {build: func(Options) pluginapi.Plugin { return NewLogger() }},
	EchoName:      {build: func(Options) pluginapi.Plugin { return NewEcho() }},
	ManagerName: {
		build:        func(Options) pluginapi.Plugin { return NewManager() },
		capabilities: []string{capability.PluginLoad, capability.PluginUnload},
	},
	ConsoleName: {
		build:        func(o Options) pluginapi.Plugin { return NewConsole(o.Console) },
		capabilities: []string{capability.PluginLoad, capability.PluginUnload},
	},
	ConfigName: {build: func(o Options) pluginapi.Plugin { return NewConfig(o.ConfigFile) }},
}

// Names returns every builtin plugin name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New builds the named builtin plugin.
func New(name string, opts Options) (pluginapi.Plugin, error) {
	e, ok := registry[name]
	if !ok {
		return nil, oops.Code(plugin.CodePluginNotFound).In("builtin").
			With("plugin", name).
			Hint("available: "+strings.Join(Names(), ", ")).
			Errorf("unknown builtin plugin %q", name)
	}
	return e.build(opts.withDefaults()), nil
}

// Candidates builds candidates for names in the given order. Unknown names
// are reported as failures and skipped.
func Candidates(names []string, opts Options) ([]*plugin.Candidate, []plugin.Failure) {
	var (
		out      []*plugin.Candidate
		failures []plugin.Failure
	)
	for _, name := range names {
		p, err := New(name, opts)
		if err != nil {
			failures = append(failures, plugin.Failure{Plugin: name, Err: err})
			continue
		}
		c := plugin.NewCandidate(p, plugin.SourceBuiltin)
		c.Capabilities = slices.Clone(registry[name].capabilities)
		out = append(out, c)
	}
	return out, failures
}

func descriptor(name string, priority pluginapi.Priority, deps ...pluginapi.Dependency) pluginapi.Descriptor {
	return pluginapi.Descriptor{
		Name:         name,
		Version:      Version,
		ABIVersion:   pluginapi.ABIVersion,
		Priority:     priority,
		Dependencies: deps,
	}
}

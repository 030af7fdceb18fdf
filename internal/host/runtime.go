// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host

import (
	"context"
	"slices"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/pkg/errutil"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Load loads a known plugin on behalf of the operator, loading its
// unloaded required dependencies first.
func (h *Host) Load(name string) error {
	return h.loadFrom("", name)
}

// Unload unloads name on behalf of the operator, after every loaded plugin
// that requires it.
func (h *Host) Unload(name string) error {
	return h.unloadFrom("", name)
}

// loadFrom loads name for caller. An empty caller is the operator and is
// not subject to capability checks.
func (h *Host) loadFrom(caller, name string) error {
	if err := h.authorize(caller, capability.PluginLoad); err != nil {
		return err
	}
	return h.withToken(caller, func() error {
		err := h.load(name)
		if err != nil {
			recordLoadFailure(err)
			errutil.LogWarn(h.logger.With("plugin", name, "caller", caller), "runtime load failed", err)
		}
		return err
	})
}

func (h *Host) unloadFrom(caller, name string) error {
	if err := h.authorize(caller, capability.PluginUnload); err != nil {
		return err
	}
	return h.withToken(caller, func() error {
		return h.unload(name)
	})
}

func (h *Host) authorize(caller, capName string) error {
	if caller == "" || h.enforcer == nil {
		return nil
	}
	return h.enforcer.Require(caller, capName)
}

func notFound(name string) error {
	return oops.Code(plugin.CodePluginNotFound).
		In("host").
		With("plugin", name).
		Errorf("plugin %s is not known", name)
}

// load resolves name together with its unloaded required dependencies
// against the loaded set and initializes them in plan order. The token
// must be held.
func (h *Host) load(name string) error {
	e := h.entry(name)
	if e == nil {
		return notFound(name)
	}
	if h.IsLoaded(name) {
		return oops.Code(plugin.CodePluginLoaded).
			In("host").
			With("plugin", name).
			Errorf("plugin %s is already loaded", name)
	}

	closure, err := h.closure(e)
	if err != nil {
		return err
	}

	var loaded []pluginapi.Descriptor
	for _, n := range h.Loaded() {
		loaded = append(loaded, h.entry(n).desc)
	}

	plan := plugin.Resolve(closure, plugin.WithLoaded(loaded...))
	for _, f := range plan.Failures {
		if f.Plugin != name {
			errutil.LogWarn(h.logger.With("plugin", f.Plugin), "dependency not loadable", f.Err)
		}
	}
	if err := plan.Failed(name); err != nil {
		return err
	}

	for _, n := range plan.Order {
		if err := h.initInOrder(context.Background(), n); err != nil {
			if n == name {
				return err
			}
			errutil.LogWarn(h.logger.With("plugin", n), "dependency failed to initialize", err)
		}
	}
	if !h.IsLoaded(name) {
		return oops.Code(plugin.CodeInitFailed).
			In("host").
			With("plugin", name).
			Errorf("plugin %s was not initialized", name)
	}
	return nil
}

// closure returns e and every known, unloaded plugin it requires,
// transitively, in discovery order.
func (h *Host) closure(e *entry) ([]pluginapi.Descriptor, error) {
	seen := map[string]bool{}
	var out []*entry

	var visit func(e *entry) error
	visit = func(e *entry) error {
		if seen[e.desc.Name] {
			return nil
		}
		seen[e.desc.Name] = true
		for _, dep := range e.desc.Dependencies {
			if dep.Kind.IsOptional() || h.IsLoaded(dep.Name) {
				continue
			}
			de := h.entry(dep.Name)
			if de == nil {
				return oops.Code(plugin.CodeMissingDependency).
					In("host").
					With("plugin", e.desc.Name).
					With("dependency", dep.Name).
					Errorf("plugin %s requires %s, which is not known", e.desc.Name, dep.Name)
			}
			if err := visit(de); err != nil {
				return err
			}
		}
		out = append(out, e)
		return nil
	}
	if err := visit(e); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b *entry) int { return a.index - b.index })
	descs := make([]pluginapi.Descriptor, len(out))
	for i, e := range out {
		descs[i] = e.desc
	}
	return descs, nil
}

// unload shuts down name and, first, every loaded plugin that requires it
// directly or transitively, in reverse load order. The token must be held.
func (h *Host) unload(name string) error {
	if h.entry(name) == nil {
		return notFound(name)
	}
	if !h.IsLoaded(name) {
		return oops.Code(plugin.CodePluginNotLoaded).
			In("host").
			With("plugin", name).
			Errorf("plugin %s is not loaded", name)
	}

	order := h.Loaded()
	victims := map[string]bool{name: true}
	for _, n := range order {
		for _, dep := range h.entry(n).desc.Dependencies {
			if !dep.Kind.IsOptional() && victims[dep.Name] {
				victims[n] = true
				break
			}
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		if victims[order[i]] {
			h.unloadPlugin(order[i])
		}
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtin

import (
	"context"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// ManagerName is the manager plugin's name.
const ManagerName = "manager"

// Events handled by the manager plugin. The payload is a plugin name.
const (
	LoadPluginEvent   = "loadPlugin"
	UnloadPluginEvent = "unloadPlugin"
)

// Manager turns load and unload events into facade calls.
type Manager struct{}

// NewManager creates the manager plugin.
func NewManager() *Manager { return &Manager{} }

// Info implements pluginapi.Plugin.
func (*Manager) Info() pluginapi.Descriptor {
	return descriptor(ManagerName, pluginapi.PriorityDefault)
}

// Init subscribes to the management events.
func (*Manager) Init(host pluginapi.Host) error {
	host.RegisterEvent(LoadPluginEvent, pluginapi.NewCallback(func(_ context.Context, _, name string) error {
		host.Log("INFO", "loading plugin: "+name)
		if err := host.LoadPlugin(name); err != nil {
			host.Log("ERROR", "failed to load plugin "+name+": "+err.Error())
		}
		return nil
	}))
	host.RegisterEvent(UnloadPluginEvent, pluginapi.NewCallback(func(_ context.Context, _, name string) error {
		host.Log("INFO", "unloading plugin: "+name)
		if err := host.UnloadPlugin(name); err != nil {
			host.Log("ERROR", "failed to unload plugin "+name+": "+err.Error())
		}
		return nil
	}))
	return nil
}

// Shutdown implements pluginapi.Plugin.
func (*Manager) Shutdown() {}

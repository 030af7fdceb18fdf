// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginapi

import "time"

// TimerID identifies an active timer. NoTimer is never issued.
type TimerID uint64

// NoTimer represents "no timer".
const NoTimer TimerID = 0

// TimerEvent is the event name passed to timer callbacks.
const TimerEvent = "timer"

// Host is the facade handed to a plugin at initialization. Each plugin gets
// its own instance; calls are attributed to that plugin.
type Host interface {
	// SendEvent publishes payload to every subscriber of name.
	SendEvent(name, payload string)
	// RegisterEvent subscribes cb to name. Registering the same pair twice
	// delivers twice.
	RegisterEvent(name string, cb *Callback)
	// UnregisterEvent removes every subscription of cb across all events.
	UnregisterEvent(cb *Callback)

	// LoadPlugin loads a known plugin that is not currently loaded.
	LoadPlugin(name string) error
	// UnloadPlugin unloads a loaded plugin and anything that requires it.
	UnloadPlugin(name string) error

	// Log writes message at level (DEBUG, INFO, WARN, ERROR).
	Log(level, message string)

	// SetData stores value under key, overwriting any existing value.
	SetData(key, value string) error
	// GetData returns the value stored under key.
	GetData(key string) (string, bool)
	// HasData reports whether key exists.
	HasData(key string) bool
	// DeleteData removes key and reports whether it existed.
	DeleteData(key string) bool

	// SetTimer arranges for cb to fire after delay, and again every delay
	// when repeat is set, until cancelled.
	SetTimer(delay time.Duration, cb *Callback, repeat bool) TimerID
	// CancelTimer cancels id and reports whether it was active.
	CancelTimer(id TimerID) bool
}

// Plugin is implemented by every loadable plugin.
type Plugin interface {
	// Info returns the plugin's descriptor. It is called before Init.
	Info() Descriptor
	// Init is called once per load with the plugin's own Host. A non-nil
	// error means the plugin is not loaded.
	Init(host Host) error
	// Shutdown is called once per successful Init, in reverse load order.
	Shutdown()
}

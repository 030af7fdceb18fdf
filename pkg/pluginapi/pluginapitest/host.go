// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginapitest provides an in-memory Host for testing plugins
// without a running plugin host.
package pluginapitest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Event is a published event.
type Event struct {
	Name    string
	Payload string
}

// LogLine is one Log call.
type LogLine struct {
	Level   string
	Message string
}

// Timer is an armed timer.
type Timer struct {
	ID       pluginapi.TimerID
	Delay    time.Duration
	Callback *pluginapi.Callback
	Repeat   bool
}

type subscription struct {
	event string
	cb    *pluginapi.Callback
}

// Host records every facade call. Published events are not delivered
// automatically; tests call Deliver or FireTimer to run callbacks.
type Host struct {
	mu        sync.Mutex
	sent      []Event
	logs      []LogLine
	subs      []subscription
	data      map[string]string
	timers    map[pluginapi.TimerID]Timer
	nextTimer pluginapi.TimerID
	loads     []string
	unloads   []string

	// LoadErr and UnloadErr are returned from LoadPlugin and UnloadPlugin.
	LoadErr   error
	UnloadErr error
	// SetErr is returned from SetData.
	SetErr error
	// MaxData, when positive, caps the number of stored keys.
	MaxData int
}

// NewHost creates an empty Host.
func NewHost() *Host {
	return &Host{
		data:   make(map[string]string),
		timers: make(map[pluginapi.TimerID]Timer),
	}
}

var _ pluginapi.Host = (*Host)(nil)

// SendEvent records the event.
func (h *Host) SendEvent(name, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, Event{Name: name, Payload: payload})
}

// RegisterEvent records the subscription.
func (h *Host) RegisterEvent(name string, cb *pluginapi.Callback) {
	if name == "" || cb == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, subscription{event: name, cb: cb})
}

// UnregisterEvent removes every subscription of cb.
func (h *Host) UnregisterEvent(cb *pluginapi.Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.subs[:0]
	for _, s := range h.subs {
		if s.cb != cb {
			kept = append(kept, s)
		}
	}
	h.subs = kept
}

// LoadPlugin records the request.
func (h *Host) LoadPlugin(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads = append(h.loads, name)
	return h.LoadErr
}

// UnloadPlugin records the request.
func (h *Host) UnloadPlugin(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unloads = append(h.unloads, name)
	return h.UnloadErr
}

// Log records the line.
func (h *Host) Log(level, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, LogLine{Level: level, Message: message})
}

// SetData stores value unless SetErr is set or a new key would exceed MaxData.
func (h *Host) SetData(key, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SetErr != nil {
		return h.SetErr
	}
	if _, ok := h.data[key]; !ok && h.MaxData > 0 && len(h.data) >= h.MaxData {
		return errors.New("data store full")
	}
	h.data[key] = value
	return nil
}

// GetData returns the stored value.
func (h *Host) GetData(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.data[key]
	return v, ok
}

// HasData reports whether key is stored.
func (h *Host) HasData(key string) bool {
	_, ok := h.GetData(key)
	return ok
}

// DeleteData removes key.
func (h *Host) DeleteData(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.data[key]
	delete(h.data, key)
	return ok
}

// SetTimer arms a timer that only fires through FireTimer.
func (h *Host) SetTimer(delay time.Duration, cb *pluginapi.Callback, repeat bool) pluginapi.TimerID {
	if cb == nil {
		return pluginapi.NoTimer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextTimer++
	h.timers[h.nextTimer] = Timer{ID: h.nextTimer, Delay: delay, Callback: cb, Repeat: repeat}
	return h.nextTimer
}

// CancelTimer disarms id.
func (h *Host) CancelTimer(id pluginapi.TimerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.timers[id]
	delete(h.timers, id)
	return ok
}

// Deliver invokes every callback subscribed to event, in registration order,
// and returns the first error.
func (h *Host) Deliver(ctx context.Context, event, payload string) error {
	h.mu.Lock()
	var cbs []*pluginapi.Callback
	for _, s := range h.subs {
		if s.event == event {
			cbs = append(cbs, s.cb)
		}
	}
	h.mu.Unlock()

	var first error
	for _, cb := range cbs {
		if err := cb.Invoke(ctx, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FireTimer runs the callback of id as the timer service would. One-shot
// timers are disarmed first. It reports false for unknown ids.
func (h *Host) FireTimer(ctx context.Context, id pluginapi.TimerID) (bool, error) {
	h.mu.Lock()
	t, ok := h.timers[id]
	if ok && !t.Repeat {
		delete(h.timers, id)
	}
	h.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, t.Callback.Invoke(ctx, pluginapi.TimerEvent, "")
}

// Sent returns the published events.
func (h *Host) Sent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.sent...)
}

// Logs returns the logged lines.
func (h *Host) Logs() []LogLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LogLine(nil), h.logs...)
}

// Subscribed returns how many subscriptions exist for event.
func (h *Host) Subscribed(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.subs {
		if s.event == event {
			n++
		}
	}
	return n
}

// Timers returns the armed timers.
func (h *Host) Timers() []Timer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Timer, 0, len(h.timers))
	for id := pluginapi.TimerID(1); id <= h.nextTimer; id++ {
		if t, ok := h.timers[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Loads returns the LoadPlugin requests.
func (h *Host) Loads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.loads...)
}

// Unloads returns the UnloadPlugin requests.
func (h *Host) Unloads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.unloads...)
}

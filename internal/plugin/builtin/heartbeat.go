// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtin

import (
	"context"
	"time"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// HeartbeatName is the heartbeat plugin's name.
const HeartbeatName = "heartbeat"

// HeartbeatEvent is published on every beat with the interval as payload.
const HeartbeatEvent = "heartbeat"

// Heartbeat publishes HeartbeatEvent on a repeating timer.
type Heartbeat struct {
	interval time.Duration
	host     pluginapi.Host
	timer    pluginapi.TimerID
}

// NewHeartbeat creates a heartbeat with the given period.
func NewHeartbeat(interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{interval: interval}
}

// Info implements pluginapi.Plugin.
func (h *Heartbeat) Info() pluginapi.Descriptor {
	return descriptor(HeartbeatName, pluginapi.PriorityFirst)
}

// Init arms the timer.
func (h *Heartbeat) Init(host pluginapi.Host) error {
	h.host = host
	payload := h.interval.String()
	h.timer = host.SetTimer(h.interval, pluginapi.NewCallback(func(context.Context, string, string) error {
		host.SendEvent(HeartbeatEvent, payload)
		return nil
	}), true)
	host.Log("INFO", "heartbeat every "+payload)
	return nil
}

// Shutdown cancels the timer.
func (h *Heartbeat) Shutdown() {
	if h.host != nil && h.timer != pluginapi.NoTimer {
		h.host.CancelTimer(h.timer)
	}
	h.host, h.timer = nil, pluginapi.NoTimer
}

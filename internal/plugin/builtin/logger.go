// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtin

import (
	"context"
	"fmt"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// LoggerName is the logger plugin's name.
const LoggerName = "logger"

// LoggedEvents are the events the logger plugin records.
var LoggedEvents = []string{
	"onKey",
	HeartbeatEvent,
	ChatMessageEvent,
	ChatReplyEvent,
	"pluginLoaded",
	"pluginUnloaded",
	ConfigLoadedEvent,
}

// Logger writes every LoggedEvents publish to the host log.
type Logger struct{}

// NewLogger creates the logger plugin.
func NewLogger() *Logger { return &Logger{} }

// Info implements pluginapi.Plugin.
func (*Logger) Info() pluginapi.Descriptor {
	return descriptor(LoggerName, pluginapi.PriorityLater,
		pluginapi.Dependency{Name: HeartbeatName, Kind: pluginapi.Optional})
}

// Init subscribes one callback to every logged event.
func (*Logger) Init(host pluginapi.Host) error {
	cb := pluginapi.NewCallback(func(_ context.Context, event, payload string) error {
		host.Log("INFO", fmt.Sprintf("event=%s payload=%s", event, payload))
		return nil
	})
	for _, event := range LoggedEvents {
		host.RegisterEvent(event, cb)
	}
	return nil
}

// Shutdown implements pluginapi.Plugin.
func (*Logger) Shutdown() {}

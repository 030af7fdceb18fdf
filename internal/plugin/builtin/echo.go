// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtin

import (
	"context"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// EchoName is the echo plugin's name.
const EchoName = "echo"

// Chat events.
const (
	ChatMessageEvent = "chatMessage"
	ChatReplyEvent   = "chatReply"
)

// Echo answers every chat message.
type Echo struct{}

// NewEcho creates the echo plugin.
func NewEcho() *Echo { return &Echo{} }

// Info implements pluginapi.Plugin.
func (*Echo) Info() pluginapi.Descriptor {
	return descriptor(EchoName, pluginapi.PriorityDefault)
}

// Init subscribes to chat messages.
func (*Echo) Init(host pluginapi.Host) error {
	host.RegisterEvent(ChatMessageEvent, pluginapi.NewCallback(func(_ context.Context, _, payload string) error {
		host.SendEvent(ChatReplyEvent, "Echo: "+payload)
		return nil
	}))
	return nil
}

// Shutdown implements pluginapi.Plugin.
func (*Echo) Shutdown() {}

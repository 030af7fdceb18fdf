// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"context"
	"net/rpc"
	"time"
)

// InitArgs carries the broker stream on which the host serves its facade.
type InitArgs struct {
	HostID uint32
}

// InvokeArgs asks the plugin to run one of its callbacks.
type InvokeArgs struct {
	CallbackID uint64
	Event      string
	Payload    string
}

// EventArgs is used by SendEvent, RegisterEvent and UnregisterEvent.
type EventArgs struct {
	Name       string
	Payload    string
	CallbackID uint64
}

// TimerArgs is used by SetTimer.
type TimerArgs struct {
	Delay      time.Duration
	CallbackID uint64
	Repeat     bool
}

// DataArgs is used by the data store calls.
type DataArgs struct {
	Key   string
	Value string
}

// DataReply answers GetData, HasData and DeleteData.
type DataReply struct {
	Value string
	Found bool
}

// LogArgs is used by Log.
type LogArgs struct {
	Level   string
	Message string
}

// callContext performs an RPC that gives up when ctx ends. The call itself
// keeps running on the other side.
func callContext(ctx context.Context, c *rpc.Client, method string, args, reply any) error {
	call := c.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}

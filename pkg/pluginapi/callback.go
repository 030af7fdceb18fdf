// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginapi

import (
	"context"
	"sync/atomic"
)

// CallbackFunc handles an event or a timer firing. Timer callbacks receive
// the event name "timer" and an empty payload.
type CallbackFunc func(ctx context.Context, event, payload string) error

var callbackSeq atomic.Uint64

// Callback is an opaque handle around a CallbackFunc.
//
// The event bus and timer service compare callbacks by handle identity, so a
// plugin must keep the handle it registered to unregister it later.
type Callback struct {
	id uint64
	fn CallbackFunc
}

// NewCallback wraps fn in a new handle with a process-unique ID.
func NewCallback(fn CallbackFunc) *Callback {
	return &Callback{id: callbackSeq.Add(1), fn: fn}
}

// ID returns the handle's non-zero identifier.
func (c *Callback) ID() uint64 {
	if c == nil {
		return 0
	}
	return c.id
}

// Invoke calls the wrapped function. A nil handle or function is a no-op.
func (c *Callback) Invoke(ctx context.Context, event, payload string) error {
	if c == nil || c.fn == nil {
		return nil
	}
	return c.fn(ctx, event, payload)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package dispatch runs plugin callbacks and contains their failures.
//
// Both the event bus and the timer service invoke callbacks through an
// Invoker, so the host can decide where plugin code runs, and through Call,
// so a failing callback never unwinds into the caller.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// CodeCallbackFailure is the oops code for a callback that returned an
// error or panicked.
const CodeCallbackFailure = "CALLBACK_FAILURE"

// Sources reported in failures and metrics.
const (
	SourceEvent = "event"
	SourceTimer = "timer"
)

// Invoker runs a callback on behalf of its owning plugin.
type Invoker interface {
	Invoke(ctx context.Context, owner string, cb *pluginapi.Callback, event, payload string) error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, owner string, cb *pluginapi.Callback, event, payload string) error

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, owner string, cb *pluginapi.Callback, event, payload string) error {
	return f(ctx, owner, cb, event, payload)
}

// Direct invokes callbacks on the calling goroutine.
var Direct Invoker = InvokerFunc(func(ctx context.Context, _ string, cb *pluginapi.Callback, event, payload string) error {
	return cb.Invoke(ctx, event, payload)
})

// Failure describes one contained callback failure.
type Failure struct {
	Source     string
	Owner      string
	Event      string
	CallbackID uint64
	Err        error
	Panicked   bool
	Stack      []byte
}

// FailureHandler receives contained failures.
type FailureHandler func(Failure)

// Call invokes cb through inv. Errors and panics are returned as a
// CALLBACK_FAILURE error and, when onFailure is set, reported to it.
func Call(ctx context.Context, inv Invoker, source, owner string, cb *pluginapi.Callback, event, payload string, onFailure FailureHandler) (err error) {
	if inv == nil {
		inv = Direct
	}

	failure := Failure{
		Source:     source,
		Owner:      owner,
		Event:      event,
		CallbackID: cb.ID(),
	}

	defer func() {
		if r := recover(); r != nil {
			failure.Panicked = true
			failure.Stack = debug.Stack()
			err = failureError(failure).Errorf("callback panicked: %v", r)
			failure.Err = err
			report(onFailure, failure)
		}
	}()

	if callErr := inv.Invoke(ctx, owner, cb, event, payload); callErr != nil {
		err = failureError(failure).Wrapf(callErr, "callback for %q failed", event)
		failure.Err = err
		report(onFailure, failure)
		return err
	}
	return nil
}

func failureError(f Failure) oops.OopsErrorBuilder {
	return oops.Code(CodeCallbackFailure).
		In("dispatch").
		With("source", f.Source).
		With("plugin", f.Owner).
		With("event", f.Event).
		With("callback_id", f.CallbackID)
}

// report shields the caller from a panicking failure handler.
func report(h FailureHandler, f Failure) {
	if h == nil {
		return
	}
	defer func() { _ = recover() }()
	h(f)
}

// String formats the failure for diagnostics.
func (f Failure) String() string {
	return fmt.Sprintf("%s callback %d of %s (%s): %v", f.Source, f.CallbackID, f.Owner, f.Event, f.Err)
}

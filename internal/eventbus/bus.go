// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package eventbus maps event names to ordered subscriber callbacks.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/pluginhost/internal/dispatch"
	"github.com/holomush/pluginhost/pkg/errutil"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

var tracer = otel.Tracer("pluginhost/eventbus")

// Subscription associates an event name with a callback and its owner.
type Subscription struct {
	Event    string
	Owner    string
	Callback *pluginapi.Callback
}

// Bus is a publish/subscribe registry. Subscriptions are kept per event in
// registration order; duplicates are allowed and each delivers separately.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Subscription

	invoker   dispatch.Invoker
	onFailure dispatch.FailureHandler
	logger    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithInvoker sets how callbacks are run. Defaults to dispatch.Direct.
func WithInvoker(inv dispatch.Invoker) Option {
	return func(b *Bus) {
		b.invoker = inv
	}
}

// WithFailureHandler registers a hook for contained callback failures.
func WithFailureHandler(h dispatch.FailureHandler) Option {
	return func(b *Bus) {
		b.onFailure = h
	}
}

// WithLogger sets the logger used for failure diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[string][]Subscription),
		invoker: dispatch.Direct,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers cb under event on behalf of owner. Empty event names
// and nil callbacks are ignored and reported as false.
func (b *Bus) Subscribe(owner, event string, cb *pluginapi.Callback) bool {
	if event == "" || cb == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[event] = append(b.subs[event], Subscription{
		Event:    event,
		Owner:    owner,
		Callback: cb,
	})
	return true
}

// Unsubscribe removes every subscription of cb across all events and
// returns how many were removed. Unknown callbacks are a no-op.
func (b *Bus) Unsubscribe(cb *pluginapi.Callback) int {
	if cb == nil {
		return 0
	}
	return b.removeWhere(func(s Subscription) bool { return s.Callback == cb })
}

// UnsubscribeOwner removes every subscription registered by owner.
func (b *Bus) UnsubscribeOwner(owner string) int {
	return b.removeWhere(func(s Subscription) bool { return s.Owner == owner })
}

func (b *Bus) removeWhere(match func(Subscription) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for event, list := range b.subs {
		kept := list[:0:0]
		for _, s := range list {
			if match(s) {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(b.subs, event)
			continue
		}
		b.subs[event] = kept
	}
	return removed
}

// Subscribers returns a snapshot of event's subscriptions in delivery order.
// Later changes to the bus do not affect the returned slice.
func (b *Bus) Subscribers(event string) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.subs[event]
	if len(list) == 0 {
		return nil
	}
	out := make([]Subscription, len(list))
	copy(out, list)
	return out
}

// Count returns the number of subscriptions for event, or for all events
// when event is empty.
func (b *Bus) Count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event != "" {
		return len(b.subs[event])
	}
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	return n
}

// Publish delivers payload to the current subscribers of event.
func (b *Bus) Publish(ctx context.Context, event, payload string) int {
	return b.Deliver(ctx, event, payload, b.Subscribers(event))
}

// Deliver invokes each subscription in subs in order. A failing callback is
// logged and counted but never stops delivery to the rest. It returns the
// number of failed deliveries.
func (b *Bus) Deliver(ctx context.Context, event, payload string, subs []Subscription) int {
	return b.DeliverIf(ctx, event, payload, subs, nil)
}

// DeliverIf is Deliver with a check made just before each callback runs.
// Subscriptions for which live returns false are skipped. A nil live keeps
// every subscription.
func (b *Bus) DeliverIf(ctx context.Context, event, payload string, subs []Subscription, live func(i int, s Subscription) bool) int {
	ctx, span := tracer.Start(ctx, "eventbus.deliver",
		trace.WithAttributes(
			attribute.String("event.name", event),
			attribute.Int("event.subscribers", len(subs)),
		),
	)
	defer span.End()

	RecordPublish(event)

	failures := 0
	for i, s := range subs {
		if live != nil && !live(i, s) {
			continue
		}
		err := dispatch.Call(ctx, b.invoker, dispatch.SourceEvent, s.Owner, s.Callback, event, payload, b.onFailure)
		if err == nil {
			continue
		}
		failures++
		RecordCallbackFailure(dispatch.SourceEvent, s.Owner)
		errutil.LogWarn(b.logger, "event callback failed", err)
	}

	if failures > 0 {
		span.SetAttributes(attribute.Int("event.failures", failures))
		span.SetStatus(codes.Error, "subscriber callbacks failed")
	}
	return failures
}

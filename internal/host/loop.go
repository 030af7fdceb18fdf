// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host

import (
	"context"
	"strings"
	"time"

	"github.com/holomush/pluginhost/internal/eventbus"
)

// delivery is a queued publish with its subscriber snapshot. gens records
// each subscriber's plugin instance at publish time.
type delivery struct {
	event   string
	payload string
	subs    []eventbus.Subscription
	gens    []uint64
}

// Publish snapshots the subscribers of event and queues the delivery. It
// never calls plugin code and may be used from any goroutine.
func (h *Host) Publish(event, payload string) {
	if event == "" {
		return
	}
	subs := h.bus.Subscribers(event)
	gens := make([]uint64, len(subs))
	h.stateMu.RLock()
	for i, s := range subs {
		if e, ok := h.plugins[s.Owner]; ok {
			gens[i] = e.gen
		}
	}
	h.stateMu.RUnlock()

	h.queueMu.Lock()
	h.queue = append(h.queue, delivery{event: event, payload: payload, subs: subs, gens: gens})
	h.queueMu.Unlock()
}

// Pending returns the number of queued deliveries.
func (h *Host) Pending() int {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	return len(h.queue)
}

// Run drives the dispatch loop every tick until ctx ends, a plugin
// publishes EventHostShutdown, or Stop runs.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case <-ticker.C:
			h.Step(ctx, h.clock())
		}
	}
}

// Step runs one loop iteration: fire timers due at now, publish EventTick
// when enabled, then deliver the publishes queued before delivery began.
func (h *Host) Step(ctx context.Context, now time.Time) {
	h.token.Lock()
	defer h.token.Unlock()

	h.timers.Fire(ctx, now)
	if h.tickEvent {
		h.Publish(EventTick, h.tick.String())
	}

	h.queueMu.Lock()
	batch := h.queue
	h.queue = nil
	h.queueMu.Unlock()

	for i, d := range batch {
		if ctx.Err() != nil {
			h.requeue(batch[i:])
			return
		}
		h.deliver(ctx, d)
	}
}

// requeue puts undelivered items back at the head of the queue.
func (h *Host) requeue(items []delivery) {
	h.queueMu.Lock()
	h.queue = append(items, h.queue...)
	h.queueMu.Unlock()
}

func (h *Host) deliver(ctx context.Context, d delivery) {
	switch d.event {
	case EventHostShutdown:
		h.logger.Info("shutdown requested by plugin")
		h.finish()
		return
	case EventRequestPluginList:
		h.Publish(EventPluginList, strings.Join(h.Loaded(), ","))
	}

	// An earlier callback of this delivery may unload or reload a
	// subscriber, so the instance is checked before every callback.
	h.bus.DeliverIf(ctx, d.event, d.payload, d.subs, func(i int, s eventbus.Subscription) bool {
		return h.isInstance(s.Owner, d.gens[i])
	})
}

// isInstance reports whether owner is loaded and still the instance gen.
func (h *Host) isInstance(owner string, gen uint64) bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	e, ok := h.plugins[owner]
	return ok && e.loaded && e.gen == gen
}

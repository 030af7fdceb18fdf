// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/dispatch"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// recorder collects invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) cb(label string) *pluginapi.Callback {
	return pluginapi.NewCallback(func(_ context.Context, event, payload string) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, label+":"+event+":"+payload)
		return nil
	})
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func quietBus(opts ...Option) *Bus {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(append([]Option{WithLogger(logger)}, opts...)...)
}

func TestBus_PublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	bus.Subscribe("a", "tick", rec.cb("a"))
	bus.Subscribe("b", "tick", rec.cb("b"))
	bus.Subscribe("c", "tick", rec.cb("c"))
	bus.Subscribe("c", "other", rec.cb("x"))

	failures := bus.Publish(context.Background(), "tick", "16ms")

	assert.Zero(t, failures)
	assert.Equal(t, []string{"a:tick:16ms", "b:tick:16ms", "c:tick:16ms"}, rec.got())
}

func TestBus_DuplicateSubscriptionDeliversOncePerSubscription(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}
	dup := rec.cb("dup")

	bus.Subscribe("p", "tick", dup)
	bus.Subscribe("q", "tick", rec.cb("other"))
	bus.Subscribe("p", "tick", dup)

	bus.Publish(context.Background(), "tick", "")

	assert.Equal(t, []string{"dup:tick:", "other:tick:", "dup:tick:"}, rec.got())
}

func TestBus_UnsubscribeRemovesAllMatchesAcrossEvents(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}
	target := rec.cb("target")
	keep := rec.cb("keep")

	bus.Subscribe("p", "a", target)
	bus.Subscribe("p", "a", target)
	bus.Subscribe("p", "b", target)
	bus.Subscribe("p", "b", keep)

	assert.Equal(t, 3, bus.Unsubscribe(target))
	assert.Equal(t, 1, bus.Count(""))

	bus.Publish(context.Background(), "a", "1")
	bus.Publish(context.Background(), "b", "2")
	assert.Equal(t, []string{"keep:b:2"}, rec.got())
}

func TestBus_UnsubscribeUnknownIsNoop(t *testing.T) {
	bus := quietBus()
	assert.Zero(t, bus.Unsubscribe(pluginapi.NewCallback(nil)))
	assert.Zero(t, bus.Unsubscribe(nil))
}

func TestBus_SubscribeRejectsInvalidInput(t *testing.T) {
	bus := quietBus()
	assert.False(t, bus.Subscribe("p", "", pluginapi.NewCallback(nil)))
	assert.False(t, bus.Subscribe("p", "e", nil))
	assert.Zero(t, bus.Count(""))
}

func TestBus_UnsubscribeDuringPublishKeepsSnapshot(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}
	victim := rec.cb("victim")

	remover := pluginapi.NewCallback(func(context.Context, string, string) error {
		bus.Unsubscribe(victim)
		return nil
	})

	bus.Subscribe("a", "tick", remover)
	bus.Subscribe("b", "tick", victim)

	bus.Publish(context.Background(), "tick", "1")
	assert.Equal(t, []string{"victim:tick:1"}, rec.got(), "snapshot still delivers to victim")

	bus.Publish(context.Background(), "tick", "2")
	assert.Equal(t, []string{"victim:tick:1"}, rec.got(), "victim gone on next publish")
}

func TestBus_SubscribeDuringPublishNotDeliveredThatPublish(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}
	late := rec.cb("late")

	adder := pluginapi.NewCallback(func(context.Context, string, string) error {
		bus.Subscribe("b", "tick", late)
		return nil
	})
	bus.Subscribe("a", "tick", adder)

	bus.Publish(context.Background(), "tick", "1")
	assert.Empty(t, rec.got())

	bus.Publish(context.Background(), "tick", "2")
	assert.Equal(t, []string{"late:tick:2"}, rec.got())
}

func TestBus_FailingCallbackDoesNotStopDelivery(t *testing.T) {
	var failures []dispatch.Failure
	bus := quietBus(WithFailureHandler(func(f dispatch.Failure) {
		failures = append(failures, f)
	}))
	rec := &recorder{}

	bus.Subscribe("bad", "chatMessage", pluginapi.NewCallback(func(context.Context, string, string) error {
		return errors.New("nope")
	}))
	bus.Subscribe("panicky", "chatMessage", pluginapi.NewCallback(func(context.Context, string, string) error {
		panic("oh no")
	}))
	bus.Subscribe("good", "chatMessage", rec.cb("good"))

	before := testutil.ToFloat64(CallbackFailures.WithLabelValues(dispatch.SourceEvent, "bad"))

	n := bus.Publish(context.Background(), "chatMessage", "hi")

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"good:chatMessage:hi"}, rec.got())
	require.Len(t, failures, 2)
	assert.Equal(t, "bad", failures[0].Owner)
	assert.True(t, failures[1].Panicked)
	assert.InDelta(t, before+1, testutil.ToFloat64(CallbackFailures.WithLabelValues(dispatch.SourceEvent, "bad")), 0)
}

func TestBus_UnsubscribeOwner(t *testing.T) {
	bus := quietBus()
	rec := &recorder{}

	bus.Subscribe("logger", "heartbeat", rec.cb("l1"))
	bus.Subscribe("logger", "chatMessage", rec.cb("l2"))
	bus.Subscribe("echo", "chatMessage", rec.cb("e"))

	assert.Equal(t, 2, bus.UnsubscribeOwner("logger"))
	assert.Zero(t, bus.Count("heartbeat"))

	bus.Publish(context.Background(), "chatMessage", "x")
	assert.Equal(t, []string{"e:chatMessage:x"}, rec.got())
}

func TestBus_DeliverUsesInvoker(t *testing.T) {
	var owners []string
	bus := quietBus(WithInvoker(dispatch.InvokerFunc(
		func(ctx context.Context, owner string, cb *pluginapi.Callback, event, payload string) error {
			owners = append(owners, owner)
			return cb.Invoke(ctx, event, payload)
		})))

	bus.Subscribe("a", "e", pluginapi.NewCallback(nil))
	bus.Subscribe("b", "e", pluginapi.NewCallback(nil))
	bus.Publish(context.Background(), "e", "")

	assert.Equal(t, []string{"a", "b"}, owners)
}

func TestBus_DeliverIfChecksBeforeEachCallback(t *testing.T) {
	bus := quietBus()
	var got []string
	dropB := false

	bus.Subscribe("a", "e", pluginapi.NewCallback(func(context.Context, string, string) error {
		got = append(got, "a")
		dropB = true
		return nil
	}))
	bus.Subscribe("b", "e", pluginapi.NewCallback(func(context.Context, string, string) error {
		got = append(got, "b")
		return nil
	}))

	failures := bus.DeliverIf(context.Background(), "e", "", bus.Subscribers("e"), func(_ int, s Subscription) bool {
		return s.Owner != "b" || !dropB
	})

	assert.Zero(t, failures)
	assert.Equal(t, []string{"a"}, got)
}

func TestBus_PublishCountsEvents(t *testing.T) {
	bus := quietBus()
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("counted"))
	bus.Publish(context.Background(), "counted", "")
	bus.Publish(context.Background(), "counted", "")
	assert.InDelta(t, before+2, testutil.ToFloat64(EventsPublished.WithLabelValues("counted")), 0)
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := quietBus()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cb := pluginapi.NewCallback(func(context.Context, string, string) error { return nil })
			bus.Subscribe("p", "e", cb)
			bus.Unsubscribe(cb)
		}()
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), "e", "")
		}()
	}
	wg.Wait()
	assert.Zero(t, bus.Count("e"))
}

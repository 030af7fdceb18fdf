// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package timer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/dispatch"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	base := []Option{WithClock(clock.Now), WithLogger(logger)}
	return New(append(base, opts...)...), clock
}

func counter(n *int) *pluginapi.Callback {
	return pluginapi.NewCallback(func(_ context.Context, event, payload string) error {
		*n++
		return nil
	})
}

func TestService_HandlesAreNonZeroAndUnique(t *testing.T) {
	svc, _ := newTestService(t)
	var n int

	a := svc.Set("p", time.Second, counter(&n), false)
	b := svc.Set("p", time.Second, counter(&n), false)

	assert.NotEqual(t, pluginapi.NoTimer, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, pluginapi.TimerID(1), a)
}

func TestService_NilCallbackIsNotScheduled(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Equal(t, pluginapi.NoTimer, svc.Set("p", time.Second, nil, true))
	assert.Zero(t, svc.Active())
}

func TestService_OneShotFiresOnceAndRetires(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	var gotEvent, gotPayload string
	cb := pluginapi.NewCallback(func(_ context.Context, event, payload string) error {
		n++
		gotEvent, gotPayload = event, payload
		return nil
	})

	id := svc.Set("p", 100*time.Millisecond, cb, false)

	assert.Zero(t, svc.Fire(context.Background(), clock.Advance(50*time.Millisecond)))
	assert.Equal(t, 1, svc.Fire(context.Background(), clock.Advance(50*time.Millisecond)))
	assert.Zero(t, svc.Fire(context.Background(), clock.Advance(time.Second)))

	assert.Equal(t, 1, n)
	assert.Equal(t, pluginapi.TimerEvent, gotEvent)
	assert.Empty(t, gotPayload)
	assert.False(t, svc.Cancel(id), "fired one-shot is retired")
}

func TestService_RepeatingFiresEachElapseUntilCancelled(t *testing.T) {
	svc, clock := newTestService(t)
	var n int

	id := svc.Set("p", 100*time.Millisecond, counter(&n), true)

	svc.Fire(context.Background(), clock.Advance(100*time.Millisecond))
	svc.Fire(context.Background(), clock.Advance(100*time.Millisecond))
	assert.Equal(t, 2, n)

	assert.True(t, svc.Cancel(id))
	svc.Fire(context.Background(), clock.Advance(100*time.Millisecond))
	assert.Equal(t, 2, n, "cancel after the second firing prevents the third")

	assert.False(t, svc.Cancel(id), "second cancel reports not found")
}

func TestService_RepeatingFiresThreeTimes(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	svc.Set("p", 100*time.Millisecond, counter(&n), true)

	for range 3 {
		svc.Fire(context.Background(), clock.Advance(150*time.Millisecond))
	}
	assert.Equal(t, 3, n)
}

func TestService_NoCatchUpBurst(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	svc.Set("p", 10*time.Millisecond, counter(&n), true)

	assert.Equal(t, 1, svc.Fire(context.Background(), clock.Advance(time.Second)))
	assert.Equal(t, 1, n)

	next, ok := svc.NextDue()
	require.True(t, ok)
	assert.Equal(t, clock.now.Add(10*time.Millisecond), next)
}

func TestService_SameDueTimeFiresInHandleOrder(t *testing.T) {
	svc, clock := newTestService(t)
	var order []string
	mk := func(label string) *pluginapi.Callback {
		return pluginapi.NewCallback(func(context.Context, string, string) error {
			order = append(order, label)
			return nil
		})
	}

	svc.Set("p", 50*time.Millisecond, mk("c-late"), false)
	svc.Set("p", 10*time.Millisecond, mk("a"), false)
	svc.Set("p", 10*time.Millisecond, mk("b"), false)

	svc.Fire(context.Background(), clock.Advance(time.Second))
	assert.Equal(t, []string{"a", "b", "c-late"}, order)
}

func TestService_SelfCancelInsideCallback(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	var id pluginapi.TimerID
	var cancelled bool
	cb := pluginapi.NewCallback(func(context.Context, string, string) error {
		n++
		cancelled = svc.Cancel(id)
		return nil
	})
	id = svc.Set("p", time.Millisecond, cb, true)

	svc.Fire(context.Background(), clock.Advance(time.Millisecond))
	svc.Fire(context.Background(), clock.Advance(time.Millisecond))

	assert.True(t, cancelled)
	assert.Equal(t, 1, n)
	assert.Zero(t, svc.Active())
}

func TestService_OneShotSelfCancelReportsNotFound(t *testing.T) {
	svc, clock := newTestService(t)
	var id pluginapi.TimerID
	cancelled := true
	cb := pluginapi.NewCallback(func(context.Context, string, string) error {
		cancelled = svc.Cancel(id)
		return nil
	})
	id = svc.Set("p", 0, cb, false)

	svc.Fire(context.Background(), clock.now)
	assert.False(t, cancelled)
}

func TestService_CancelSiblingDueInSameFire(t *testing.T) {
	svc, clock := newTestService(t)
	var repeats, oneShots int
	var repeatID, oneShotID pluginapi.TimerID
	var cancelRepeat, cancelOneShot bool

	svc.Set("a", time.Millisecond, pluginapi.NewCallback(func(context.Context, string, string) error {
		cancelRepeat = svc.Cancel(repeatID)
		cancelOneShot = svc.Cancel(oneShotID)
		return nil
	}), false)
	repeatID = svc.Set("b", time.Millisecond, counter(&repeats), true)
	oneShotID = svc.Set("b", time.Millisecond, counter(&oneShots), false)

	fired := svc.Fire(context.Background(), clock.Advance(time.Millisecond))
	svc.Fire(context.Background(), clock.Advance(time.Millisecond))

	assert.Equal(t, 1, fired)
	assert.True(t, cancelRepeat)
	assert.True(t, cancelOneShot, "a due one-shot that has not fired is still cancellable")
	assert.Zero(t, repeats)
	assert.Zero(t, oneShots)
	assert.Zero(t, svc.Active())
}

func TestService_CancelOwnerOfSiblingDueInSameFire(t *testing.T) {
	svc, clock := newTestService(t)
	var n int

	svc.Set("a", time.Millisecond, pluginapi.NewCallback(func(context.Context, string, string) error {
		svc.CancelOwner("b")
		return nil
	}), false)
	svc.Set("b", time.Millisecond, counter(&n), false)
	svc.Set("b", time.Millisecond, counter(&n), true)

	assert.Equal(t, 1, svc.Fire(context.Background(), clock.Advance(time.Millisecond)))
	assert.Zero(t, n)
}

func TestService_SelfRescheduleInsideCallback(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	var cb *pluginapi.Callback
	cb = pluginapi.NewCallback(func(context.Context, string, string) error {
		n++
		if n < 3 {
			svc.Set("p", time.Millisecond, cb, false)
		}
		return nil
	})
	svc.Set("p", time.Millisecond, cb, false)

	for range 5 {
		svc.Fire(context.Background(), clock.Advance(time.Millisecond))
	}
	assert.Equal(t, 3, n)
	assert.Zero(t, svc.Active())
}

func TestService_FailingRepeatIsStillRearmed(t *testing.T) {
	var failures []dispatch.Failure
	svc, clock := newTestService(t, WithFailureHandler(func(f dispatch.Failure) {
		failures = append(failures, f)
	}))
	var n int
	svc.Set("flaky", 10*time.Millisecond, pluginapi.NewCallback(func(context.Context, string, string) error {
		n++
		if n == 1 {
			panic("first firing explodes")
		}
		return errors.New("still failing")
	}), true)

	svc.Fire(context.Background(), clock.Advance(10*time.Millisecond))
	svc.Fire(context.Background(), clock.Advance(10*time.Millisecond))

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, svc.Active())
	require.Len(t, failures, 2)
	assert.Equal(t, dispatch.SourceTimer, failures[0].Source)
	assert.Equal(t, "flaky", failures[0].Owner)
	assert.True(t, failures[0].Panicked)
}

func TestService_FailureDoesNotStopOtherTimers(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	svc.Set("bad", time.Millisecond, pluginapi.NewCallback(func(context.Context, string, string) error {
		return errors.New("bad")
	}), false)
	svc.Set("good", time.Millisecond, counter(&n), false)

	assert.Equal(t, 2, svc.Fire(context.Background(), clock.Advance(time.Millisecond)))
	assert.Equal(t, 1, n)
}

func TestService_CancelOwner(t *testing.T) {
	svc, clock := newTestService(t)
	var a, b int
	svc.Set("a", time.Millisecond, counter(&a), true)
	svc.Set("a", time.Millisecond, counter(&a), false)
	svc.Set("b", time.Millisecond, counter(&b), true)

	assert.Equal(t, 2, svc.CancelOwner("a"))
	svc.Fire(context.Background(), clock.Advance(time.Millisecond))

	assert.Zero(t, a)
	assert.Equal(t, 1, b)
}

func TestService_CancelOwnerDuringFiringStopsRearm(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	svc.Set("p", time.Millisecond, pluginapi.NewCallback(func(context.Context, string, string) error {
		n++
		svc.CancelOwner("p")
		return nil
	}), true)

	svc.Fire(context.Background(), clock.Advance(time.Millisecond))
	svc.Fire(context.Background(), clock.Advance(time.Millisecond))
	assert.Equal(t, 1, n)
}

func TestService_NegativeDelayIsImmediate(t *testing.T) {
	svc, clock := newTestService(t)
	var n int
	svc.Set("p", -time.Second, counter(&n), false)
	svc.Fire(context.Background(), clock.now)
	assert.Equal(t, 1, n)
}

func TestService_UsesInvoker(t *testing.T) {
	var owners []string
	svc, clock := newTestService(t, WithInvoker(dispatch.InvokerFunc(
		func(ctx context.Context, owner string, cb *pluginapi.Callback, event, payload string) error {
			owners = append(owners, owner)
			return cb.Invoke(ctx, event, payload)
		})))
	var n int
	svc.Set("heartbeat", 0, counter(&n), false)
	svc.Fire(context.Background(), clock.now)
	assert.Equal(t, []string{"heartbeat"}, owners)
}

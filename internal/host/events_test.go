// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/host"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

func start(t *testing.T, h *host.Host, ps ...*testPlugin) {
	t.Helper()
	report, err := h.Start(context.Background(), candidates(ps...))
	require.NoError(t, err)
	require.Empty(t, report.Failures)
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
}

func TestEvents_DeliveredInSubscriptionOrderOnStep(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	b := newPlugin(rec, "b", pluginapi.PriorityDefault)
	a.onInit = func(h pluginapi.Host) error {
		cb := a.listen()
		h.RegisterEvent("greet", cb)
		h.RegisterEvent("greet", cb)
		return nil
	}
	b.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("greet", b.listen())
		return nil
	}

	h := host.New()
	start(t, h, a, b)
	rec.reset()

	a.host.SendEvent("greet", "hi")
	assert.Empty(t, rec.all(), "publishes are queued until the next step")

	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"a:greet:hi", "a:greet:hi", "b:greet:hi"}, rec.all())
}

func TestEvents_SnapshotAtPublish(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	b := newPlugin(rec, "b", pluginapi.PriorityDefault)

	var bcb *pluginapi.Callback
	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("news", pluginapi.NewCallback(func(_ context.Context, event, payload string) error {
			rec.add("a:" + event + ":" + payload)
			h.UnregisterEvent(bcb)
			return nil
		}))
		return nil
	}
	b.onInit = func(h pluginapi.Host) error {
		bcb = b.listen()
		h.RegisterEvent("news", bcb)
		return nil
	}

	h := host.New()
	start(t, h, a, b)
	rec.reset()

	h.Publish("news", "1")
	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"a:news:1", "b:news:1"}, rec.all(), "removal mid-publish does not change this delivery")

	rec.reset()
	h.Publish("news", "2")
	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"a:news:2"}, rec.all())
}

func TestEvents_SubscribeAfterPublishMissesIt(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)

	h := host.New()
	start(t, h, a)

	h.Publish("late", "x")
	a.host.RegisterEvent("late", a.listen())
	rec.reset()

	h.Step(context.Background(), time.Now())
	assert.Empty(t, rec.all())
}

func TestEvents_FailureDoesNotStopDelivery(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	b := newPlugin(rec, "b", pluginapi.PriorityDefault)
	c := newPlugin(rec, "c", pluginapi.PriorityDefault)
	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("e", pluginapi.NewCallback(func(context.Context, string, string) error {
			return errors.New("nope")
		}))
		return nil
	}
	b.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("e", pluginapi.NewCallback(func(context.Context, string, string) error {
			panic("worse")
		}))
		return nil
	}
	c.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("e", c.listen())
		return nil
	}

	h := host.New()
	start(t, h, a, b, c)
	rec.reset()

	h.Publish("e", "p")
	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"c:e:p"}, rec.all())
	assert.True(t, h.IsLoaded("a"))
	assert.True(t, h.IsLoaded("b"))
}

func TestEvents_PublishFromCallbackRunsNextStep(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	b := newPlugin(rec, "b", pluginapi.PriorityDefault)
	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("ping", pluginapi.NewCallback(func(_ context.Context, _, payload string) error {
			h.SendEvent("pong", payload)
			return nil
		}))
		return nil
	}
	b.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("pong", b.listen())
		return nil
	}

	h := host.New()
	start(t, h, a, b)
	rec.reset()

	h.Publish("ping", "1")
	h.Step(context.Background(), time.Now())
	assert.Empty(t, rec.all())
	assert.Equal(t, 1, h.Pending())

	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"b:pong:1"}, rec.all())
}

func TestEvents_InitPublishesReachEarlierPlugins(t *testing.T) {
	rec := &recorder{}
	listener := newPlugin(rec, "listener", pluginapi.PriorityFirst)
	listener.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("pluginLoaded", listener.listen())
		h.RegisterEvent("configLoaded", listener.listen())
		return nil
	}
	config := newPlugin(rec, "config", pluginapi.PriorityDefault)
	config.onInit = func(h pluginapi.Host) error {
		h.SendEvent("configLoaded", "Config message: hi")
		return nil
	}

	h := host.New()
	start(t, h, listener, config)
	rec.reset()

	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{
		"listener:pluginLoaded:listener",
		"listener:configLoaded:Config message: hi",
		"listener:pluginLoaded:config",
	}, rec.all())
}

func TestEvents_DroppedForUnloadedPlugin(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("x", a.listen())
		return nil
	}

	h := host.New()
	start(t, h, a)

	h.Publish("x", "stale")
	require.NoError(t, h.Unload("a"))
	require.NoError(t, h.Load("a"))
	rec.reset()

	h.Step(context.Background(), time.Now())
	assert.NotContains(t, rec.all(), "a:x:stale", "queued delivery belonged to the previous instance")

	h.Publish("x", "fresh")
	h.Step(context.Background(), time.Now())
	assert.Contains(t, rec.all(), "a:x:fresh")
}

func TestEvents_TickEvent(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("tick", a.listen())
		return nil
	}

	h := host.New(host.WithTickEvent(true), host.WithTick(20*time.Millisecond))
	start(t, h, a)
	rec.reset()

	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"a:tick:20ms"}, rec.all())
}

func TestEvents_PluginListReply(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityFirst)
	b := newPlugin(rec, "b", pluginapi.PriorityDefault)
	b.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("pluginList", b.listen())
		return nil
	}

	h := host.New()
	start(t, h, a, b)
	h.Step(context.Background(), time.Now())
	rec.reset()

	b.host.SendEvent("requestPluginList", "")
	h.Step(context.Background(), time.Now())
	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"b:pluginList:a,b"}, rec.all())
}

func TestEvents_HostShutdownClosesDone(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("hostShutdown", a.listen())
		return nil
	}

	h := host.New()
	start(t, h, a)
	rec.reset()

	a.host.SendEvent("hostShutdown", "")
	h.Step(context.Background(), time.Now())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed")
	}
	assert.Empty(t, rec.all(), "hostShutdown is consumed by the host")
}

func TestEvents_IgnoresInvalidSubscriptions(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("", a.listen())
		h.RegisterEvent("x", nil)
		h.SendEvent("", "nothing")
		return nil
	}

	h := host.New()
	start(t, h, a)
	assert.Equal(t, 0, h.Bus().Count(""))
	assert.Equal(t, 1, h.Pending(), "only the pluginLoaded publish is queued")
}

func TestEvents_ReloadedSubscriberSkipsStaleDelivery(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityFirst)
	b := newPlugin(rec, "b", pluginapi.PriorityDefault)

	a.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("ping", pluginapi.NewCallback(func(_ context.Context, _, payload string) error {
			rec.add("a:ping:" + payload)
			if payload != "reload" {
				return nil
			}
			if err := h.UnloadPlugin("b"); err != nil {
				return err
			}
			return h.LoadPlugin("b")
		}))
		return nil
	}
	b.onInit = func(h pluginapi.Host) error {
		h.RegisterEvent("ping", b.listen())
		return nil
	}

	h := host.New()
	start(t, h, a, b)
	rec.reset()

	h.Publish("ping", "reload")
	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"a:ping:reload", "shutdown:b", "init:b"}, rec.all())

	rec.reset()
	h.Publish("ping", "2")
	h.Step(context.Background(), time.Now())
	assert.Equal(t, []string{"a:ping:2", "b:ping:2"}, rec.all())
}

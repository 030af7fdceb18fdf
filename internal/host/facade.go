// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/holomush/pluginhost/internal/datastore"
	"github.com/holomush/pluginhost/pkg/errutil"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// facade is the pluginapi.Host handed to one plugin instance. Every call is
// attributed to owner.
type facade struct {
	h      *Host
	owner  string
	logger *slog.Logger
	closed atomic.Bool
}

var _ pluginapi.Host = (*facade)(nil)

func newFacade(h *Host, owner string) *facade {
	return &facade{h: h, owner: owner, logger: h.logger.With("plugin", owner)}
}

// close stops the facade from creating subscriptions or timers after its
// plugin is gone.
func (f *facade) close() { f.closed.Store(true) }

func (f *facade) SendEvent(name, payload string) {
	if name == "" {
		f.logger.Warn("ignoring event with empty name")
		return
	}
	f.h.Publish(name, payload)
}

func (f *facade) RegisterEvent(name string, cb *pluginapi.Callback) {
	if f.closed.Load() {
		f.logger.Warn("ignoring subscription from unloaded plugin", "event", name)
		return
	}
	if !f.h.bus.Subscribe(f.owner, name, cb) {
		f.logger.Warn("ignoring subscription with empty event or nil callback", "event", name)
	}
}

func (f *facade) UnregisterEvent(cb *pluginapi.Callback) {
	f.h.bus.Unsubscribe(cb)
}

func (f *facade) LoadPlugin(name string) error {
	return f.h.loadFrom(f.owner, name)
}

func (f *facade) UnloadPlugin(name string) error {
	return f.h.unloadFrom(f.owner, name)
}

func (f *facade) Log(level, message string) {
	lvl, ok := ParseLevel(level)
	if !ok {
		f.logger.Info(message, "level_raw", level)
		return
	}
	f.logger.Log(context.Background(), lvl, message)
}

// ParseLevel maps a plugin log level name to a slog level. WARNING is
// accepted as WARN and matching ignores case.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func (f *facade) dataContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), f.h.dataTimeout)
}

func (f *facade) SetData(key, value string) error {
	ctx, cancel := f.dataContext()
	defer cancel()
	_, err := f.h.store.Set(ctx, key, value)
	return err
}

func (f *facade) GetData(key string) (string, bool) {
	ctx, cancel := f.dataContext()
	defer cancel()
	e, err := f.h.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, datastore.ErrNotFound) {
			errutil.LogWarn(f.logger.With("key", key), "data store read failed", err)
		}
		return "", false
	}
	return e.Value, true
}

func (f *facade) HasData(key string) bool {
	ctx, cancel := f.dataContext()
	defer cancel()
	ok, err := f.h.store.Has(ctx, key)
	if err != nil {
		errutil.LogWarn(f.logger.With("key", key), "data store lookup failed", err)
		return false
	}
	return ok
}

func (f *facade) DeleteData(key string) bool {
	ctx, cancel := f.dataContext()
	defer cancel()
	ok, err := f.h.store.Delete(ctx, key)
	if err != nil {
		errutil.LogWarn(f.logger.With("key", key), "data store delete failed", err)
		return false
	}
	return ok
}

func (f *facade) SetTimer(delay time.Duration, cb *pluginapi.Callback, repeat bool) pluginapi.TimerID {
	if f.closed.Load() {
		f.logger.Warn("ignoring timer from unloaded plugin")
		return pluginapi.NoTimer
	}
	if cb == nil {
		f.logger.Warn("ignoring timer with nil callback")
		return pluginapi.NoTimer
	}
	return f.h.timers.Set(f.owner, delay, cb, repeat)
}

func (f *facade) CancelTimer(id pluginapi.TimerID) bool {
	return f.h.timers.Cancel(id)
}

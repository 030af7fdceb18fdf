// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostfunc exposes the plugin host facade to Lua scripts as the
// global "host" table.
//
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"context"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// GlobalName is the name of the table installed into the Lua state.
const GlobalName = "host"

// maxDelayMillis bounds setTimer delays so they fit a time.Duration.
const maxDelayMillis = float64(math.MaxInt64) / float64(time.Millisecond)

// CallFunc runs a Lua function as an event or timer callback.
type CallFunc func(ctx context.Context, fn *lua.LFunction, event, payload string) error

// Functions binds one plugin's Host to a Lua state.
type Functions struct {
	name      string
	host      pluginapi.Host
	call      CallFunc
	callbacks map[*lua.LFunction]*pluginapi.Callback
}

// New creates host functions for the named plugin. call runs Lua functions
// handed to on and set_timer when their callback fires.
// Panics if host or call is nil.
func New(name string, host pluginapi.Host, call CallFunc) *Functions {
	if host == nil || call == nil {
		panic("hostfunc.New: host and call are required")
	}
	return &Functions{
		name:      name,
		host:      host,
		call:      call,
		callbacks: make(map[*lua.LFunction]*pluginapi.Callback),
	}
}

// Register installs the host table into L.
func (f *Functions) Register(L *lua.LState) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"send_event":     f.sendEvent,
		"on":             f.on,
		"off":            f.off,
		"set_timer":      f.setTimer,
		"cancel_timer":   f.cancelTimer,
		"set_data":       f.setData,
		"get_data":       f.getData,
		"has_data":       f.hasData,
		"delete_data":    f.deleteData,
		"log":            f.log,
		"load_plugin":    f.loadPlugin,
		"unload_plugin":  f.unloadPlugin,
		"new_request_id": newRequestID,
	})
	L.SetField(mod, "plugin_name", lua.LString(f.name))
	L.SetGlobal(GlobalName, mod)
}

// Callback returns the callback handle for fn, creating it on first use.
// The same function always yields the same handle.
func (f *Functions) Callback(fn *lua.LFunction) *pluginapi.Callback {
	if cb, ok := f.callbacks[fn]; ok {
		return cb
	}
	cb := pluginapi.NewCallback(func(ctx context.Context, event, payload string) error {
		return f.call(ctx, fn, event, payload)
	})
	f.callbacks[fn] = cb
	return cb
}

func (f *Functions) sendEvent(L *lua.LState) int {
	name := L.CheckString(1)
	payload := L.OptString(2, "")
	f.host.SendEvent(name, payload)
	return 0
}

func (f *Functions) on(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	f.host.RegisterEvent(name, f.Callback(fn))
	return 0
}

func (f *Functions) off(L *lua.LState) int {
	fn := L.CheckFunction(1)
	if cb, ok := f.callbacks[fn]; ok {
		f.host.UnregisterEvent(cb)
	}
	return 0
}

func (f *Functions) setTimer(L *lua.LState) int {
	ms := L.CheckNumber(1)
	fn := L.CheckFunction(2)
	repeat := L.OptBool(3, false)
	switch {
	case math.IsNaN(float64(ms)):
		L.ArgError(1, "delay must be a number")
		return 0
	case ms < 0:
		L.ArgError(1, "delay must not be negative")
		return 0
	case float64(ms) >= maxDelayMillis:
		L.ArgError(1, "delay is too large")
		return 0
	}

	delay := time.Duration(float64(ms) * float64(time.Millisecond))
	id := f.host.SetTimer(delay, f.Callback(fn), repeat)
	L.Push(lua.LNumber(id))
	return 1
}

func (f *Functions) cancelTimer(L *lua.LState) int {
	id := L.CheckNumber(1)
	L.Push(lua.LBool(f.host.CancelTimer(pluginapi.TimerID(id))))
	return 1
}

func (f *Functions) setData(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)
	return pushResult(L, f.host.SetData(key, value))
}

func (f *Functions) getData(L *lua.LState) int {
	key := L.CheckString(1)
	value, ok := f.host.GetData(key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

func (f *Functions) hasData(L *lua.LState) int {
	L.Push(lua.LBool(f.host.HasData(L.CheckString(1))))
	return 1
}

func (f *Functions) deleteData(L *lua.LState) int {
	L.Push(lua.LBool(f.host.DeleteData(L.CheckString(1))))
	return 1
}

func (f *Functions) log(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)
	f.host.Log(level, message)
	return 0
}

func (f *Functions) loadPlugin(L *lua.LState) int {
	return pushResult(L, f.host.LoadPlugin(L.CheckString(1)))
}

func (f *Functions) unloadPlugin(L *lua.LState) int {
	return pushResult(L, f.host.UnloadPlugin(L.CheckString(1)))
}

func newRequestID(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

// pushResult pushes true, or false and the error message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

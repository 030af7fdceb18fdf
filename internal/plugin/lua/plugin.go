// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/pluginhost/internal/plugin/hostfunc"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Lifecycle globals a script may define.
const (
	initFunc     = "on_init"
	shutdownFunc = "on_shutdown"
)

// Plugin is a Lua script running as a plugin. Each Init runs the script in
// a fresh sandboxed state; Shutdown discards it.
//
// Plugin is not safe for concurrent use. The host never calls into one
// plugin from two goroutines at once.
type Plugin struct {
	desc    pluginapi.Descriptor
	entry   string
	proto   *lua.FunctionProto
	factory *StateFactory

	state *lua.LState
	// depth counts Lua calls in flight; states retired during a call are
	// closed once it unwinds.
	depth   int
	retired []*lua.LState
}

// NewPlugin creates a plugin from compiled script code.
func NewPlugin(desc pluginapi.Descriptor, entry string, proto *lua.FunctionProto, factory *StateFactory) *Plugin {
	if factory == nil {
		factory = NewStateFactory()
	}
	return &Plugin{
		desc:    desc.Clone(),
		entry:   entry,
		proto:   proto,
		factory: factory,
	}
}

// Info returns the descriptor built from the manifest.
func (p *Plugin) Info() pluginapi.Descriptor {
	return p.desc.Clone()
}

// Init runs the script with a host table bound to h, then calls on_init if
// the script defines it. on_init returning false fails the load.
func (p *Plugin) Init(h pluginapi.Host) error {
	errb := oops.In("lua").With("plugin", p.desc.Name).With("entry", p.entry)

	L, err := p.factory.NewState()
	if err != nil {
		return errb.Wrap(err)
	}

	funcs := hostfunc.New(p.desc.Name, h, func(ctx context.Context, fn *lua.LFunction, event, payload string) error {
		return p.call(ctx, L, fn, lua.LString(event), lua.LString(payload))
	})
	funcs.Register(L)

	p.retire()
	p.state = L

	if err := p.call(context.Background(), L, L.NewFunctionFromProto(p.proto)); err != nil {
		p.retire()
		return errb.Hint("script failed").Wrap(err)
	}

	onInit, ok := L.GetGlobal(initFunc).(*lua.LFunction)
	if !ok {
		return nil
	}
	ret, err := p.callReturning(L, onInit)
	if err != nil {
		p.retire()
		return errb.Hint(initFunc + " failed").Wrap(err)
	}
	if ret == lua.LFalse {
		p.retire()
		return errb.Errorf("%s returned false", initFunc)
	}
	return nil
}

// Shutdown calls on_shutdown if defined and discards the state.
func (p *Plugin) Shutdown() {
	L := p.state
	if L == nil {
		return
	}
	if fn, ok := L.GetGlobal(shutdownFunc).(*lua.LFunction); ok {
		if err := p.call(context.Background(), L, fn); err != nil {
			slog.Warn("lua shutdown handler failed",
				"plugin", p.desc.Name,
				"error", err)
		}
	}
	p.retire()
}

// retire detaches the current state and closes it when no call is running.
func (p *Plugin) retire() {
	if p.state == nil {
		return
	}
	p.retired = append(p.retired, p.state)
	p.state = nil
	p.closeRetired()
}

func (p *Plugin) closeRetired() {
	if p.depth > 0 {
		return
	}
	for _, L := range p.retired {
		L.Close()
	}
	p.retired = nil
}

func (p *Plugin) enter(ctx context.Context, L *lua.LState) error {
	if L != p.state {
		return oops.In("lua").With("plugin", p.desc.Name).Errorf("plugin is not running")
	}
	if p.depth == 0 && ctx != nil && ctx.Done() != nil {
		L.SetContext(ctx)
	}
	p.depth++
	return nil
}

func (p *Plugin) leave(L *lua.LState) {
	p.depth--
	if p.depth == 0 {
		if L.Context() != nil {
			L.RemoveContext()
		}
		p.closeRetired()
	}
}

func (p *Plugin) call(ctx context.Context, L *lua.LState, fn *lua.LFunction, args ...lua.LValue) error {
	if err := p.enter(ctx, L); err != nil {
		return err
	}
	defer p.leave(L)

	return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
}

func (p *Plugin) callReturning(L *lua.LState, fn *lua.LFunction) (lua.LValue, error) {
	if err := p.enter(context.Background(), L); err != nil {
		return lua.LNil, err
	}
	defer p.leave(L)

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

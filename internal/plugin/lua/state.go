// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs plugins written in Lua inside sandboxed gopher-lua
// states.
package lua

import (
	"bytes"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries: base, table, string and math. The os, io, debug and
// package libraries are never opened.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// Base functions that reach the filesystem or compile arbitrary code.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []safeLibrary
	callStack int
}

// StateOption configures a StateFactory.
type StateOption func(*StateFactory)

// WithCallStackSize bounds Lua call depth. Zero keeps the gopher-lua default.
func WithCallStackSize(n int) StateOption {
	return func(f *StateFactory) {
		f.callStack = n
	}
}

// NewStateFactory creates a new state factory.
func NewStateFactory(opts ...StateOption) *StateFactory {
	f := &StateFactory{
		libraries: defaultSafeLibraries(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState creates a fresh Lua state with only the safe libraries loaded.
func (f *StateFactory) NewState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: f.callStack,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "failed to open library %s", lib.name)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	return L, nil
}

// Compile parses and compiles source once so every Init can reuse it.
func Compile(name string, source []byte) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(source), name)
	if err != nil {
		return nil, oops.In("lua").With("entry", name).Hint("syntax error").Wrap(err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, oops.In("lua").With("entry", name).Hint("compile error").Wrap(err)
	}
	return proto, nil
}

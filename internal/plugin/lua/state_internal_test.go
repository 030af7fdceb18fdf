// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	luavm "github.com/yuin/gopher-lua"
)

func TestNewState_LibraryLoadError(t *testing.T) {
	failing := func(L *luavm.LState) int {
		L.RaiseError("simulated library load failure")
		return 0
	}

	factory := &StateFactory{
		libraries: []safeLibrary{{"failing-lib", failing}},
	}

	_, err := factory.NewState()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open library failing-lib")
}

func TestDefaultSafeLibraries(t *testing.T) {
	var names []string
	for _, lib := range defaultSafeLibraries() {
		names = append(names, lib.name)
	}

	assert.ElementsMatch(t, []string{
		luavm.BaseLibName,
		luavm.TabLibName,
		luavm.StringLibName,
		luavm.MathLibName,
	}, names)
}

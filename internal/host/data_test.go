// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/datastore"
	"github.com/holomush/pluginhost/internal/host"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

func TestData_SharedAcrossPlugins(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)
	b := newPlugin(rec, "b", pluginapi.PriorityDefault)

	h := host.New()
	start(t, h, a, b)

	require.NoError(t, a.host.SetData("k", "v1"))
	require.NoError(t, b.host.SetData("k", "v2"))

	v, ok := a.host.GetData("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)

	entry, err := h.Store().Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), entry.Version)

	assert.True(t, b.host.DeleteData("k"))
	assert.False(t, a.host.HasData("k"))
	assert.False(t, a.host.DeleteData("k"))

	_, ok = a.host.GetData("k")
	assert.False(t, ok)
}

func TestData_Limits(t *testing.T) {
	rec := &recorder{}
	a := newPlugin(rec, "a", pluginapi.PriorityDefault)

	store := datastore.NewMemoryStore(datastore.Limits{MaxEntries: 1, MaxKeyBytes: 8})
	h := host.New(host.WithStore(store))
	start(t, h, a)

	require.NoError(t, a.host.SetData("one", "1"))
	err := a.host.SetData("two", "2")
	require.ErrorIs(t, err, datastore.ErrCapacity)
	require.NoError(t, a.host.SetData("one", "again"), "overwrites ignore the entry limit")

	require.ErrorIs(t, a.host.SetData("", "x"), datastore.ErrInvalid)
	require.ErrorIs(t, a.host.SetData("far-too-long", "x"), datastore.ErrInvalid)
}

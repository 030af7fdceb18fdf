// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package datastore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/pkg/errutil"
)

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), Config{Backend: BackendMemory, Limits: DefaultLimits()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Set(context.Background(), "k", "v")
	require.NoError(t, err)
}

func TestOpen_Rejects(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	_, err = Open(context.Background(), Config{Backend: BackendPostgres})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestInstrument_RecordsResults(t *testing.T) {
	ctx := context.Background()
	s := Instrument(NewMemoryStore(Limits{MaxEntries: 1}))

	okBefore := testutil.ToFloat64(Operations.WithLabelValues("set", ResultOK))
	capBefore := testutil.ToFloat64(Operations.WithLabelValues("set", ResultCapacity))
	missBefore := testutil.ToFloat64(Operations.WithLabelValues("get", ResultMiss))
	delMissBefore := testutil.ToFloat64(Operations.WithLabelValues("delete", ResultMiss))

	_, _ = s.Set(ctx, "a", "1")
	_, _ = s.Set(ctx, "b", "1")
	_, _ = s.Get(ctx, "zzz")
	_, _ = s.Delete(ctx, "zzz")

	assert.InDelta(t, okBefore+1, testutil.ToFloat64(Operations.WithLabelValues("set", ResultOK)), 0)
	assert.InDelta(t, capBefore+1, testutil.ToFloat64(Operations.WithLabelValues("set", ResultCapacity)), 0)
	assert.InDelta(t, missBefore+1, testutil.ToFloat64(Operations.WithLabelValues("get", ResultMiss)), 0)
	assert.InDelta(t, delMissBefore+1, testutil.ToFloat64(Operations.WithLabelValues("delete", ResultMiss)), 0)
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t,
		[]string{"ph:data:values", "ph:data:versions", "ph:data:updated"},
		RedisKeys("ph"))

	s := NewRedisStore(nil, "", Limits{})
	assert.Equal(t, RedisKeys(DefaultRedisPrefix), s.keys)
}

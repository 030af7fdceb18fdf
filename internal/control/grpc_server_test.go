// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/host"
	"github.com/holomush/pluginhost/pkg/errutil"
)

var _ host.Observer = (*GRPCServer)(nil)

func startGRPC(t *testing.T) *GRPCServer {
	t.Helper()
	s, err := NewGRPCServer("pluginhost")
	require.NoError(t, err)
	errCh, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		<-errCh
	})
	return s
}

func check(t *testing.T, s *GRPCServer, services ...string) map[string]string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := Check(ctx, s.Addr(), services...)
	require.NoError(t, err)
	out := make(map[string]string, len(res))
	for _, r := range res {
		out[r.Service] = r.Status
	}
	return out
}

func TestNewGRPCServer_EmptyComponent(t *testing.T) {
	_, err := NewGRPCServer("")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONTROL_INVALID")
}

func TestGRPCServer_OverallFollowsReadiness(t *testing.T) {
	s := startGRPC(t)

	assert.Equal(t, map[string]string{"host": "NOT_SERVING"}, check(t, s))

	s.SetReady(true)
	assert.Equal(t, map[string]string{"host": "SERVING"}, check(t, s))
	assert.Equal(t, "SERVING", check(t, s, "pluginhost")["pluginhost"])
}

func TestGRPCServer_PerPluginStatus(t *testing.T) {
	s := startGRPC(t)

	s.PluginLoaded("echo")
	s.PluginLoaded("logger")
	s.PluginUnloaded("logger")

	got := check(t, s, "echo", "logger", "missing")
	assert.Equal(t, map[string]string{
		"echo":    "SERVING",
		"logger":  "NOT_SERVING",
		"missing": "SERVICE_UNKNOWN",
	}, got)
}

func TestGRPCServer_DoubleStartFails(t *testing.T) {
	s := startGRPC(t)

	_, err := s.Start("127.0.0.1:0")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONTROL_RUNNING")
}

func TestGRPCServer_StartFailsOnInvalidAddress(t *testing.T) {
	s, err := NewGRPCServer("pluginhost")
	require.NoError(t, err)

	_, err = s.Start("256.0.0.1:bad")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONTROL_LISTEN_FAILED")
	assert.Empty(t, s.Addr())
}

func TestGRPCServer_StopWithoutStart(t *testing.T) {
	s, err := NewGRPCServer("pluginhost")
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestGRPCServer_StopReturnsNilOnErrorChannel(t *testing.T) {
	s, err := NewGRPCServer("pluginhost")
	require.NoError(t, err)
	errCh, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestGRPCServer_ConcurrentUpdatesAndChecks(t *testing.T) {
	s := startGRPC(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.PluginLoaded("echo")
			s.PluginUnloaded("echo")
			s.PluginLoaded("echo")
		}()
	}
	wg.Wait()

	assert.Equal(t, "SERVING", check(t, s, "echo")["echo"])
}

func TestCheck_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := Check(ctx, "127.0.0.1:1")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONTROL_CHECK_FAILED")
}

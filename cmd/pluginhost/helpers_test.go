// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/builtin"
)

// isolate points config discovery at an empty directory and resets globals.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	configFile = ""
	t.Cleanup(func() { configFile = "" })
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	return cmd, &out
}

// builtinsOnly offers the configured builtins without scanning plugins.dir.
func builtinsOnly(_ context.Context, cfg *config.Config, console io.Writer) ([]*plugin.Candidate, []plugin.Failure, error) {
	cands, failures := builtin.Candidates(cfg.Plugins.Builtin, builtin.Options{
		HeartbeatInterval: cfg.Plugins.HeartbeatInterval,
		Console:           console,
	})
	return cands, failures, nil
}

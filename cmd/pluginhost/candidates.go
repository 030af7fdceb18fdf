// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/hashicorp/go-hclog"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/builtin"
	"github.com/holomush/pluginhost/internal/plugin/goplugin"
	"github.com/holomush/pluginhost/internal/plugin/lua"
)

// collectCandidates returns the configured builtins followed by the
// manifest-backed plugins under plugins.dir, in discovery order.
func collectCandidates(ctx context.Context, cfg *config.Config, console io.Writer, pluginLog io.Writer) ([]*plugin.Candidate, []plugin.Failure, error) {
	cands, failures := builtin.Candidates(cfg.Plugins.Builtin, builtin.Options{
		HeartbeatInterval: cfg.Plugins.HeartbeatInterval,
		ConfigFile:        cfg.Plugins.ConfigFile,
		Console:           console,
	})

	mgr := plugin.NewManager(cfg.Plugins.Dir,
		plugin.WithLoader(plugin.TypeLua, lua.NewLoader(nil)),
		plugin.WithLoader(plugin.TypeBinary, goplugin.NewLoader(&goplugin.DefaultClientFactory{
			Logger: pluginLogger(cfg, pluginLog),
		})),
	)
	disk, diskFailures, err := mgr.Candidates(ctx)
	if err != nil {
		releaseAll(cands)
		return nil, nil, err
	}

	slog.Debug("plugin candidates collected",
		"builtin", len(cands),
		"manifest", len(disk),
		"failed", len(failures)+len(diskFailures))
	return append(cands, disk...), append(failures, diskFailures...), nil
}

func pluginLogger(cfg *config.Config, w io.Writer) hclog.Logger {
	if w == nil {
		return nil
	}
	return goplugin.NewLogger(w, cfg.Log.Level, cfg.Log.Format == "json")
}

func releaseAll(cands []*plugin.Candidate) {
	for _, c := range cands {
		if err := c.Release(); err != nil {
			slog.Warn("failed to release plugin candidate", "error", err)
		}
	}
}

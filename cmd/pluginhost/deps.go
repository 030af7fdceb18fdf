// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/control"
	"github.com/holomush/pluginhost/internal/datastore"
	"github.com/holomush/pluginhost/internal/observability"
	"github.com/holomush/pluginhost/internal/plugin"
)

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// StoreOpener opens the shared data store.
	// Default: datastore.Open
	StoreOpener func(ctx context.Context, cfg datastore.Config) (datastore.Store, error)

	// CandidateSource lists the plugins offered to the host.
	// Default: builtins plus manifests under plugins.dir
	CandidateSource func(ctx context.Context, cfg *config.Config, console io.Writer) ([]*plugin.Candidate, []plugin.Failure, error)

	// ControlServerFactory creates the gRPC health server.
	// Default: control.NewGRPCServer
	ControlServerFactory func(component string) (ControlServer, error)

	// ObservabilityServerFactory creates the metrics/health HTTP server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// SocketServerFactory creates the local control socket.
	// Default: control.NewServer
	SocketServerFactory func(component string, plugins control.PluginLister, shutdown control.ShutdownFunc) SocketServer

	// Stdin feeds --console.
	// Default: os.Stdin
	Stdin io.Reader
}

// ControlServer wraps the methods used from control.GRPCServer.
type ControlServer interface {
	PluginLoaded(name string)
	PluginUnloaded(name string)
	SetReady(ready bool)
	Start(addr string) (<-chan error, error)
	Stop(ctx context.Context) error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// SocketServer wraps the methods used from control.Server.
type SocketServer interface {
	Start() error
	Stop(ctx context.Context) error
}

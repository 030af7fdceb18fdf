// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/control"
	"github.com/holomush/pluginhost/internal/datastore"
	"github.com/holomush/pluginhost/internal/eventbus"
	"github.com/holomush/pluginhost/internal/host"
	"github.com/holomush/pluginhost/internal/logging"
	"github.com/holomush/pluginhost/internal/observability"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/internal/timer"
	"github.com/holomush/pluginhost/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// runOptions holds the run flags that are not configuration keys.
type runOptions struct {
	console bool
	socket  bool
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load plugins and run the dispatch loop",
		Long: `Start every configured plugin in dependency order and run the
event loop until interrupted, a plugin requests shutdown, or a shutdown
is requested over the control socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWithDeps(cmd.Context(), cmd, cfg, opts, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&opts.console, "console", false, "read console commands from stdin")
	cmd.Flags().BoolVar(&opts.socket, "control-socket", true, "serve the local control socket under XDG_RUNTIME_DIR")

	return cmd
}

func (d *RunDeps) withDefaults() *RunDeps {
	out := RunDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = datastore.Open
	}
	if out.CandidateSource == nil {
		out.CandidateSource = func(ctx context.Context, cfg *config.Config, console io.Writer) ([]*plugin.Candidate, []plugin.Failure, error) {
			return collectCandidates(ctx, cfg, console, os.Stderr)
		}
	}
	if out.ControlServerFactory == nil {
		out.ControlServerFactory = func(component string) (ControlServer, error) {
			return control.NewGRPCServer(component)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready,
				observability.WithVersion(version),
				observability.WithRegistrars(
					eventbus.RegisterMetrics,
					timer.RegisterMetrics,
					datastore.RegisterMetrics,
					host.RegisterMetrics,
				))
		}
	}
	if out.SocketServerFactory == nil {
		out.SocketServerFactory = func(component string, plugins control.PluginLister, shutdown control.ShutdownFunc) SocketServer {
			return control.NewServer(component, plugins, shutdown)
		}
	}
	if out.Stdin == nil {
		out.Stdin = os.Stdin
	}
	return &out
}

// runWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts *runOptions, deps *RunDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, cfg.Log.Level)

	store, err := deps.StoreOpener(ctx, cfg.DatastoreOptions())
	if err != nil {
		return oops.With("operation", "open data store").Wrap(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("error closing data store", "error", err)
		}
	}()

	enforcer := capability.NewEnforcer()
	for name, grants := range cfg.Capabilities {
		if err := enforcer.SetGrants(name, grants); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hostOpts := []host.Option{
		host.WithStore(store),
		host.WithEnforcer(enforcer),
		host.WithLogger(logger),
		host.WithTick(cfg.Host.Tick),
		host.WithTickEvent(cfg.Host.TickEvent),
	}

	var ctrl ControlServer
	if cfg.Control.Addr != "" {
		ctrl, err = deps.ControlServerFactory(serviceName)
		if err != nil {
			return err
		}
		ctrlErr, err := ctrl.Start(cfg.Control.Addr)
		if err != nil {
			return err
		}
		defer stopServer("control gRPC server", ctrl.Stop)
		go monitorServerErrors(ctx, cancel, ctrlErr, "control-grpc")
		hostOpts = append(hostOpts, host.WithObserver(ctrl))
	}

	h := host.New(hostOpts...)

	// Metrics come up before plugins so readiness reports the start phase.
	if cfg.Metrics.Addr != "" {
		obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, h.Ready)
		obsErr, err := obs.Start()
		if err != nil {
			return err
		}
		defer stopServer("observability server", obs.Stop)
		go monitorServerErrors(ctx, cancel, obsErr, "observability")
	}

	cands, failures, err := deps.CandidateSource(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	for _, f := range failures {
		errutil.LogError(logger.With("plugin", f.Plugin), "plugin not offered", f.Err)
	}

	report, err := h.Start(ctx, cands)
	if err != nil {
		releaseAll(cands)
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := h.Stop(stopCtx); err != nil {
			slog.Warn("error stopping host", "error", err)
		}
	}()
	if ctrl != nil {
		ctrl.SetReady(true)
	}

	if opts.socket {
		sock := deps.SocketServerFactory(serviceName, h.Loaded, func() { cancel() })
		if err := sock.Start(); err != nil {
			errutil.LogWarn(logger, "control socket unavailable", err)
		} else {
			defer stopServer("control socket", sock.Stop)
		}
	}

	runCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if opts.console {
		go feedConsole(runCtx, deps.Stdin, h)
	}

	cmd.Printf("pluginhost started: %d plugin(s) loaded, %d failed\n", len(report.Loaded), len(report.Failures)+len(failures))
	logger.Info("host running", "loaded", report.Loaded, "tick", cfg.Host.Tick)

	if err := h.Run(runCtx); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// feedConsole publishes each stdin line as a consoleInput event.
func feedConsole(ctx context.Context, r io.Reader, h *host.Host) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		h.Publish(host.EventConsoleInput, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("console input closed", "error", err)
	}
}

func stopServer(name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		slog.Warn("error stopping "+name, "error", err)
	}
}

// monitorServerErrors cancels ctx when a server fails. It exits when the
// channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

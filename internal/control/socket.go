// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/xdg"
)

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by the /status endpoint.
type StatusResponse struct {
	Running       bool     `json:"running"`
	PID           int      `json:"pid"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Component     string   `json:"component,omitempty"`
	Plugins       []string `json:"plugins"`
}

// ShutdownResponse is returned by the /shutdown endpoint.
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// PluginLister reports the loaded plugins in load order.
type PluginLister func() []string

// Server runs HTTP over a Unix socket for local process management.
type Server struct {
	component    string
	startTime    time.Time
	listener     net.Listener
	httpServer   *http.Server
	socketPath   string
	shutdownFunc ShutdownFunc
	plugins      PluginLister
	running      atomic.Bool
}

// NewServer creates a new control socket server.
func NewServer(component string, plugins PluginLister, shutdownFunc ShutdownFunc) *Server {
	s := &Server{
		component:    component,
		startTime:    time.Now(),
		shutdownFunc: shutdownFunc,
		plugins:      plugins,
	}
	s.running.Store(true)
	return s
}

// SocketPath returns the path to the Unix socket for component.
func SocketPath(component string) (string, error) {
	runtimeDir, err := xdg.RuntimeDir()
	if err != nil {
		return "", oops.Code("CONTROL_SOCKET_PATH").Wrapf(err, "get runtime directory")
	}
	return filepath.Join(runtimeDir, component+".sock"), nil
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	socketPath, err := SocketPath(s.component)
	if err != nil {
		return err
	}
	s.socketPath = socketPath

	if err := xdg.EnsureDir(filepath.Dir(socketPath)); err != nil {
		return err
	}

	// A stale socket from a crashed run blocks Listen.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return oops.Code("CONTROL_SOCKET_FAILED").With("path", socketPath).Wrapf(err, "remove existing socket")
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return oops.Code("CONTROL_SOCKET_FAILED").With("path", socketPath).Wrapf(err, "listen on socket")
	}
	s.listener = listener

	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return oops.Code("CONTROL_SOCKET_FAILED").With("path", socketPath).Wrapf(err, "set socket permissions")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control socket server error", "component", s.component, "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the control socket server and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.Code("CONTROL_SOCKET_FAILED").Wrapf(err, "shutdown http server")
		}
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("failed to close control socket listener", "component", s.component, "error", err)
		}
	}

	if s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove control socket file",
				"component", s.component,
				"path", s.socketPath,
				"error", err,
			)
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeJSON(w, resp); err != nil {
		slog.Error("failed to write health response", "component", s.component, "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Running:       s.running.Load(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Component:     s.component,
		Plugins:       []string{},
	}
	if s.plugins != nil {
		if p := s.plugins(); p != nil {
			resp.Plugins = p
		}
	}
	if err := writeJSON(w, resp); err != nil {
		slog.Error("failed to write status response", "component", s.component, "error", err)
	}
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	if err := writeJSON(w, ShutdownResponse{Message: "shutdown initiated"}); err != nil {
		slog.Error("failed to write shutdown response", "component", s.component, "error", err)
	}
	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.Code("CONTROL_ENCODE_FAILED").Wrapf(err, "encode JSON response")
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control exposes the plugin host's control surfaces: a gRPC health
// service reporting per-plugin serving state and a local HTTP control socket.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// OverallService is the health service name that reports the host as a whole.
const OverallService = ""

// GRPCServer runs the gRPC health service. It implements host.Observer so
// each plugin appears as its own service.
type GRPCServer struct {
	component  string
	health     *health.Server
	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
}

// NewGRPCServer creates a health server. The overall status starts as
// NOT_SERVING until SetReady is called.
func NewGRPCServer(component string) (*GRPCServer, error) {
	if component == "" {
		return nil, oops.Code("CONTROL_INVALID").Errorf("component name cannot be empty")
	}
	s := &GRPCServer{
		component: component,
		health:    health.NewServer(),
	}
	s.health.SetServingStatus(OverallService, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(component, healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

// SetReady flips the overall status.
func (s *GRPCServer) SetReady(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(OverallService, st)
	s.health.SetServingStatus(s.component, st)
}

// PluginLoaded marks name as SERVING.
func (s *GRPCServer) PluginLoaded(name string) {
	s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
}

// PluginUnloaded marks name as NOT_SERVING.
func (s *GRPCServer) PluginUnloaded(name string) {
	s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Start begins listening on addr.
// The returned channel receives the server's exit error (nil on graceful stop).
func (s *GRPCServer) Start(addr string) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil, oops.Code("CONTROL_RUNNING").Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.Code("CONTROL_LISTEN_FAILED").With("addr", addr).Wrapf(err, "listen")
	}
	s.listener = listener

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.grpcServer = srv

	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if err != nil {
			slog.Error("control gRPC server error", "component", s.component, "error", err)
		}
		errCh <- err
	}()

	slog.Info("control server started", "component", s.component, "addr", listener.Addr().String())
	return errCh, nil
}

// Addr returns the listen address, or "" before Start.
func (s *GRPCServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop reports every service as NOT_SERVING and stops the server gracefully.
func (s *GRPCServer) Stop(_ context.Context) error {
	s.health.Shutdown()

	s.mu.Lock()
	srv := s.grpcServer
	s.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	return nil
}

// ServiceStatus is one health check result.
type ServiceStatus struct {
	Service string
	Status  string
}

// Check queries the health service at addr. With no services it reports
// the overall status under the name "host". Unknown services report
// SERVICE_UNKNOWN rather than failing the whole call.
func Check(ctx context.Context, addr string, services ...string) ([]ServiceStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, oops.Code("CONTROL_DIAL_FAILED").With("addr", addr).Wrapf(err, "dial control server")
	}
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	if len(services) == 0 {
		services = []string{OverallService}
	}

	out := make([]ServiceStatus, 0, len(services))
	for _, svc := range services {
		name := svc
		if name == OverallService {
			name = "host"
		}
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if status.Code(err) == codes.NotFound {
			out = append(out, ServiceStatus{Service: name, Status: healthpb.HealthCheckResponse_SERVICE_UNKNOWN.String()})
			continue
		}
		if err != nil {
			return nil, oops.Code("CONTROL_CHECK_FAILED").With("addr", addr).With("service", name).Wrapf(err, "health check")
		}
		out = append(out, ServiceStatus{Service: name, Status: resp.GetStatus().String()})
	}
	return out, nil
}

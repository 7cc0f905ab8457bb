package rpcapi

import (
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"marchproxy-router/internal/logging"
)

// Server wraps a gRPC server hosting the INFRA service's health check
// and reflection, matching proxy-nlb/internal/grpc.Server. The router's
// actual request dispatch is a hand-rolled interface rather than
// generated protobuf stubs, since spec.md scopes the wire transport
// itself out ("interfaces only").
type Server struct {
	address string
	port    int
	service InfraService
	logger  *logging.Logger

	mu           sync.RWMutex
	grpcServer   *grpc.Server
	healthServer *health.Server
	listener     net.Listener
	running      bool
}

// NewServer creates an INFRA gRPC server shell.
func NewServer(address string, port int, service InfraService, logger *logging.Logger) *Server {
	return &Server{address: address, port: port, service: service, logger: logger}
}

// Start listens and serves, blocking until Stop is called or Serve errors.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("rpcapi server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     15 * time.Minute,
		MaxConnectionAge:      30 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  5 * time.Second,
		Timeout:               1 * time.Second,
	}
	kaEnforcement := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaEnforcement),
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
	)

	s.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus("router.InfraService", grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(s.grpcServer)

	s.running = true
	s.mu.Unlock()

	s.logger.Info("rpcapi server starting", "address", addr)

	if err := s.grpcServer.Serve(listener); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("rpcapi server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, forcing a stop after 30s.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("rpcapi server stopping")

	if s.healthServer != nil {
		s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		s.healthServer.SetServingStatus("router.InfraService", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("rpcapi server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn("rpcapi server graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}

	if s.listener != nil {
		s.listener.Close()
	}
	s.running = false
	return nil
}

// IsRunning reports whether the server is currently serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

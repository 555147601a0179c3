// Package server exposes the daemon's gRPC endpoint: the standard health
// service and server reflection.
package server

import (
	"errors"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "vkd.InstanceService"

// Server wraps a grpc.Server whose health follows the container runtime.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	log     *zap.Logger
	serving atomic.Bool
}

// New returns a server that reports NOT_SERVING until SetServing(true).
func New(log *zap.Logger, opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing records whether the runtime is reachable. Only transitions are logged.
func (s *Server) SetServing(ok bool) {
	if s.serving.Swap(ok) == ok {
		return
	}
	if ok {
		s.log.Info("runtime reachable, reporting SERVING")
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.log.Warn("runtime unreachable, reporting NOT_SERVING")
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve blocks until Stop. A graceful stop is not an error.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

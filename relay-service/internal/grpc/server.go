package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/weiawesome/wes-io-live/pkg/log"
)

// ServiceName is the health-check name of the relay.
const ServiceName = "relay.v1.Relay"

// Server exposes grpc.health.v1 for the relay.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer builds the gRPC server with logging interceptors. The relay
// starts NOT_SERVING until MarkServing is called.
func NewServer(logger zerolog.Logger) *Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	srv := &Server{grpc: s, health: hs}
	srv.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return srv
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// MarkServing reports SERVING for the relay and the server as a whole.
func (s *Server) MarkServing() {
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

// MarkNotServing reports NOT_SERVING. Called as soon as shutdown begins.
func (s *Server) MarkNotServing() {
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

// WatchHub flips to NOT_SERVING once done is closed.
func (s *Server) WatchHub(done <-chan struct{}) {
	go func() {
		<-done
		s.MarkNotServing()
	}()
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Start listens on addr and serves in the background.
func Start(addr string, logger zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := NewServer(logger)
	go func() {
		l := log.L()
		l.Info().Str("address", addr).Msg("relay grpc server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return s, nil
}

package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/complaintfeed/internal/profile"
	"github.com/matheus3301/complaintfeed/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// channelService is the health service name reported for a channel topic.
func channelService(topic string) string {
	return "channel/" + topic
}

// Server is the gRPC health server on the profile's Unix domain socket.
// The overall service ("") is SERVING while the daemon runs; each channel
// topic is SERVING only while its subscription is CONNECTED.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the health server to the profile socket.
func NewServer(p Params, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// SetChannel records the connection state of a topic.
func (s *Server) SetChannel(topic string, st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Connected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(channelService(topic), serving)
}

// Stop marks everything NOT_SERVING, shuts down and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

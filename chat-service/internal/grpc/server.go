package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/club-chat/pkg/log"
)

// ServiceName is the health service name reported for the chat API.
const ServiceName = "club.chat.ChatService"

// Probe reports whether one backing dependency is usable.
type Probe func(ctx context.Context) error

// HealthMonitor keeps the gRPC health status in line with the dependency probes.
type HealthMonitor struct {
	server *health.Server
	probes map[string]Probe
}

func NewHealthMonitor(probes map[string]Probe) *HealthMonitor {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthMonitor{server: hs, probes: probes}
}

// Check runs every probe once and publishes the aggregate status.
func (m *HealthMonitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range m.probes {
		if err := probe(ctx); err != nil {
			l := log.L()
			l.Warn().Err(err).Str("dependency", name).Msg("health probe failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
	return status
}

// Run re-checks on every interval until ctx is done, then reports shutdown.
func (m *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		m.Check(probeCtx)
		cancel()

		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func NewServer(monitor *HealthMonitor, logger zerolog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	healthpb.RegisterHealthServer(s, monitor.server)
	return s
}

func StartGRPCServer(addr string, monitor *HealthMonitor, logger zerolog.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := NewServer(monitor, logger)

	go func() {
		l := log.L()
		l.Info().Str("address", addr).Msg("chat grpc health server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return s, nil
}

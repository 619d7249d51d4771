// Package grpc serves the standard gRPC health service, reporting SERVING
// while the tree store answers.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-sync/internal/observability"
)

// ServiceName is the health service entry for the sync engine.
const ServiceName = "chat-sync"

// Clock is the store clock checked for liveness.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

type HealthServer struct {
	address  string
	clock    Clock
	interval time.Duration
	logger   *slog.Logger
	health   *health.Server
}

func NewHealthServer(address string, clock Clock, interval time.Duration, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthServer{
		address:  address,
		clock:    clock,
		interval: interval,
		logger:   logger.With("module", "grpc_health"),
		health:   health.NewServer(),
	}
}

// Check reads the store once and updates the reported status.
func (s *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	checkCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if _, err := s.clock.Now(checkCtx); err != nil {
		s.logger.Warn("store health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Run serves until ctx is done.
func (s *HealthServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, s.health)

	s.Check(ctx)
	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.logger.Info("stopping gRPC server")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info("starting gRPC server", "address", s.address)
	return srv.Serve(listen)
}

func (s *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

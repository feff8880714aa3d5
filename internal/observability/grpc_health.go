package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GRPCHealth serves grpc.health.v1.Health. The overall service starts
// NOT_SERVING and follows the readiness checks once Watch is running.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	checks []NamedCheck
	logger zerolog.Logger
}

// NewGRPCHealth creates a gRPC server exposing only the health service
func NewGRPCHealth(logger zerolog.Logger, checks ...NamedCheck) *GRPCHealth {
	server := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    30 * time.Second,
		Timeout: 10 * time.Second,
	}))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return &GRPCHealth{
		server: server,
		health: hs,
		checks: checks,
		logger: logger.With().Str("component", "grpc_health").Logger(),
	}
}

// Serve accepts connections on lis until Stop
func (g *GRPCHealth) Serve(lis net.Listener) error {
	g.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

// Refresh runs the checks once and publishes the result
func (g *GRPCHealth) Refresh(ctx context.Context) bool {
	_, healthy := RunChecks(ctx, g.checks...)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(serviceName, status)
	return healthy
}

// Watch refreshes the serving status every interval until ctx ends
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := g.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if healthy := g.Refresh(ctx); healthy != last {
				g.logger.Info().Bool("serving", healthy).Msg("gRPC serving status changed")
				last = healthy
			}
		}
	}
}

// Stop marks the service NOT_SERVING and stops the server gracefully
func (g *GRPCHealth) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

// CheckGRPCHealth dials addr and asks the health service about service.
// It returns true only for SERVING.
func CheckGRPCHealth(ctx context.Context, addr, service string) (bool, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, fmt.Errorf("health check %s: %w", addr, err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

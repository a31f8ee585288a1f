// ABOUTME: gRPC server exposing the standard grpc.health.v1 service
// ABOUTME: Health status follows history store pings and flips to NOT_SERVING on shutdown

package gateway

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the chat API.
const ServiceName = "coven.chat.v1.Chat"

const healthProbeInterval = 15 * time.Second

// newGRPCServer creates a gRPC server with the health service registered.
func newGRPCServer(hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	return server
}

// probeStore pings the store once and records the result on the health server.
func (g *Gateway) probeStore(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("history store ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
	return status
}

// watchStoreHealth probes the store until ctx is canceled.
func (g *Gateway) watchStoreHealth(ctx context.Context, interval time.Duration) {
	last := g.probeStore(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := g.probeStore(ctx)
			if status != last {
				g.logger.Info("health status changed", "status", status.String())
				last = status
			}
		}
	}
}

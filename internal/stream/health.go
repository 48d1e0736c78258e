package stream

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported by the health server.
const HealthService = "steersim.Simulation"

// HealthServer exposes the standard gRPC health protocol for the simulation.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer registers a health service that starts NOT_SERVING.
func NewHealthServer(opts ...grpc.ServerOption) *HealthServer {
	server := grpc.NewServer(opts...)
	checker := health.NewServer()
	healthpb.RegisterHealthServer(server, checker)
	checker.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: server, health: checker}
}

// SetServing flips both the simulation service and the overall status.
func (h *HealthServer) SetServing(serving bool) {
	if h == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(HealthService, status)
	h.health.SetServingStatus("", status)
}

// Serve blocks serving gRPC on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.server.Serve(lis)
}

// Stop marks the service as shutting down and stops the server.
func (h *HealthServer) Stop() {
	if h == nil {
		return
	}
	h.health.Shutdown()
	h.server.GracefulStop()
}

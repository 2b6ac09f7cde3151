package grpc

import (
	"context"
	"time"

	health "google.golang.org/grpc/health/grpc_health_v1"
)

func (v *Server) Check(ctx context.Context, request *health.HealthCheckRequest) (*health.HealthCheckResponse, error) {
	return &health.HealthCheckResponse{
		Status: health.HealthCheckResponse_SERVING,
	}, nil
}

func (v *Server) Watch(request *health.HealthCheckRequest, server health.Health_WatchServer) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if err := server.Send(&health.HealthCheckResponse{
			Status: health.HealthCheckResponse_SERVING,
		}); err != nil {
			return nil
		}
		select {
		case <-server.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

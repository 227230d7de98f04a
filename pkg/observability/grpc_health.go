package observability

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCHealth serves the standard grpc.health.v1 service. The status starts
// as NOT_SERVING.
type GRPCHealth struct {
	server  *grpc.Server
	health  *health.Server
	logger  *zap.Logger
	service string
}

// NewGRPCHealth creates a health server reporting for service and for the
// empty service name
func NewGRPCHealth(service string, logger *zap.Logger) *GRPCHealth {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	g := &GRPCHealth{server: srv, health: hs, logger: logger, service: service}
	g.SetServing(false)
	return g
}

// SetServing flips the reported status
func (g *GRPCHealth) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(g.service, st)
}

// Serve blocks serving on lis
func (g *GRPCHealth) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// ListenAndServe listens on port and serves in the background
func (g *GRPCHealth) ListenAndServe(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on %d: %w", port, err)
	}

	go func() {
		g.logger.Info("gRPC health server listening", zap.String("address", lis.Addr().String()))
		if err := g.server.Serve(lis); err != nil {
			g.logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop marks every service NOT_SERVING and stops the server, forcing it
// closed if ctx ends first
func (g *GRPCHealth) Stop(ctx context.Context) error {
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.server.Stop()
		return ctx.Err()
	}
}

package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	healthRPCs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_health_rpcs_total",
		Help: "Health service RPCs by method and status code",
	}, []string{"method", "code"})

	healthRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processing_health_rpc_duration_seconds",
		Help:    "Health service RPC duration; Watch streams are measured until they end",
		Buckets: []float64{.001, .005, .01, .05, .1, 1, 10, 60},
	}, []string{"method"})
)

func observeRPC(method string, start time.Time, err error) {
	healthRPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	healthRPCs.WithLabelValues(method, status.Code(err).String()).Inc()
}

// UnaryServerInterceptor records Check calls
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeRPC(info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor records Watch streams and reflection sessions
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeRPC(info.FullMethod, start, err)
		return err
	}
}

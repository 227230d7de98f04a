package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthChecker_Check(t *testing.T) {
	hc := NewHealthChecker(time.Second)
	hc.Register("store", func(context.Context) error { return nil })

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy())
	assert.Equal(t, "healthy", status.Checks["store"])

	hc.Register("broker", func(context.Context) error { return errors.New("no brokers") })
	status = hc.Check(context.Background())
	assert.False(t, status.Healthy())
	assert.Equal(t, "unhealthy: no brokers", status.Checks["broker"])
	assert.Equal(t, "healthy", status.Checks["store"])
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	hc := NewHealthChecker(10 * time.Millisecond)
	hc.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy())
	assert.Contains(t, status.Checks["slow"], "deadline exceeded")
}

func TestHealthChecker_Handler(t *testing.T) {
	hc := NewHealthChecker(time.Second)
	hc.Register("store", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	hc.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
}

func TestGRPCHealth(t *testing.T) {
	lis := bufconn.Listen(1 << 16)
	g := NewGRPCHealth("processing", zap.NewNop())
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client := healthpb.NewHealthClient(conn)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "processing"})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	g.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	g.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestMux_Ready(t *testing.T) {
	ready := false
	mux := NewMux(nil, func() bool { return ready })

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not_ready"}`, rec.Body.String())

	ready = true
	rec = get("/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, get("/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get("/health").Code)
}

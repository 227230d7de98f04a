package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyFunc reports whether the service should receive traffic
type ReadyFunc func() bool

// MetricsServer serves /metrics, /health and /ready over HTTP
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer builds the server. Nil checker or ready disable the
// corresponding endpoint's checks.
func NewMetricsServer(port int, checker *HealthChecker, ready ReadyFunc, logger *zap.Logger) *MetricsServer {
	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           NewMux(checker, ready),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       15 * time.Second,
		},
		logger: logger,
	}
}

// NewMux returns the handler tree served by MetricsServer
func NewMux(checker *HealthChecker, ready ReadyFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if checker != nil {
		mux.HandleFunc("/health", checker.HealthHandler())
	}
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		state, code := "ready", http.StatusOK
		if ready != nil && !ready() {
			state, code = "not_ready", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": state})
	})
	return mux
}

// Start serves in the background
func (m *MetricsServer) Start() {
	go func() {
		m.logger.Info("Metrics server listening", zap.String("address", m.server.Addr))
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting connections and waits for active requests
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

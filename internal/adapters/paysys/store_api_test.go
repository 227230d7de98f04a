package paysys

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	pkgerrors "github.com/kevin07696/processing-service/pkg/errors"
)

func newTestStoreAPI(t *testing.T, handler http.HandlerFunc) (*StoreAPI, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultStoreAPIConfig(srv.URL)
	cfg.MaxRetries = 1
	cfg.RequestTimeout = time.Second
	api := NewStoreAPI("store", cfg, srv.Client(), zap.NewNop())
	return api, srv
}

func TestStoreAPI_AuthSourceApproved(t *testing.T) {
	var got storeRequest
	api, _ := newTestStoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/check", r.URL.Path)
		assert.Equal(t, "tx-1:check", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"approved":true,"reference":"chk-9"}`))
	})

	out, err := api.AuthSource(context.Background(), newTx())
	require.NoError(t, err)

	assert.Equal(t, "tx-1", got.TransactionID)
	assert.Equal(t, "10.5", got.Amount)
	assert.Equal(t, "chk-9", out.ExtraInfo[extraStoreCheckRef])
}

func TestStoreAPI_CaptureSourceRedirect(t *testing.T) {
	api, _ := newTestStoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/withdraw", r.URL.Path)
		_, _ = w.Write([]byte(`{"approved":true,"reference":"wd-1","redirect_url":"https://acs.example/3ds"}`))
	})

	out, err := api.CaptureSource(context.Background(), newTx())
	require.NoError(t, err)
	assert.Equal(t, "wd-1", out.ExtraInfo[extraStoreWithdrawal])
	assert.Equal(t, "https://acs.example/3ds", out.ExtraInfo[domain.RedirectURLKey])
}

func TestStoreAPI_Declines(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "not approved", status: http.StatusOK, body: `{"approved":false,"reason":"out of stock"}`, wantErr: "STORE_CHECK_FAILED"},
		{name: "client error", status: http.StatusBadRequest, body: `bad order`, wantErr: "STORE_REJECTED"},
		{name: "unreadable body", status: http.StatusOK, body: `<html>`, wantErr: "STORE_BAD_RESPONSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, _ := newTestStoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			out, err := api.AuthSource(context.Background(), newTx())
			require.Error(t, err)
			assert.Nil(t, out)

			pe, ok := pkgerrors.AsPaymentError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantErr, pe.Code)
			assert.False(t, pe.IsRetriable)
			assert.True(t, domain.IsDecline(err))
		})
	}
}

func TestStoreAPI_ServerErrorIsRetriedThenRetriable(t *testing.T) {
	var calls atomic.Int32
	api, _ := newTestStoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := api.AuthSource(context.Background(), newTx())
	require.Error(t, err)

	assert.True(t, pkgerrors.IsRetriable(err))
	assert.False(t, domain.IsDecline(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestStoreAPI_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	api, _ := newTestStoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"approved":true}`))
	})

	_, err := api.AuthSource(context.Background(), newTx())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStoreAPI_OpenCircuitIsRetriable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultStoreAPIConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.Breaker = CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, MaxRequestsHalfOpen: 1}
	api := NewStoreAPI("store-cb", cfg, srv.Client(), zap.NewNop())

	_, _ = api.AuthSource(context.Background(), newTx())
	_, err := api.AuthSource(context.Background(), newTx())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, pkgerrors.IsRetriable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStoreAPI_VoidWithoutWithdrawalIsIdentity(t *testing.T) {
	var calls atomic.Int32
	api, _ := newTestStoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	tx := newTx()
	out, err := api.Void(context.Background(), tx)
	require.NoError(t, err)
	assert.Same(t, tx, out)
	assert.Zero(t, calls.Load())
}

func TestStoreAPI_VoidRefundsWithdrawal(t *testing.T) {
	api, _ := newTestStoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		_, _ = w.Write([]byte(`{"approved":true,"reference":"rf-3"}`))
	})

	tx := newTx()
	tx.MergeExtraInfo(map[string]interface{}{extraStoreWithdrawal: "wd-1"})

	out, err := api.Void(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "rf-3", out.ExtraInfo[extraStoreRefund])
}

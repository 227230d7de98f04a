package paysys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	pkgerrors "github.com/kevin07696/processing-service/pkg/errors"
	"github.com/kevin07696/processing-service/pkg/resilience"
)

var circuitStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "processing_paysys_circuit_state",
	Help: "Circuit breaker state per payment interface (0=closed, 1=open, 2=half-open)",
}, []string{"paysys_id"})

// extra_info keys written by the store API interface
const (
	extraStoreCheckRef   = "store_check_reference"
	extraStoreWithdrawal = "store_withdrawal_id"
	extraStoreRefund     = "store_refund_id"
)

// Doer sends store API requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StoreAPIConfig configures a store-backed payment interface
type StoreAPIConfig struct {
	BaseURL        string
	Breaker        CircuitBreakerConfig
	RequestTimeout time.Duration
	MaxRetries     int
}

// DefaultStoreAPIConfig returns defaults for baseURL
func DefaultStoreAPIConfig(baseURL string) StoreAPIConfig {
	return StoreAPIConfig{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		RequestTimeout: 15 * time.Second,
		MaxRetries:     2,
		Breaker:        DefaultCircuitBreakerConfig(),
	}
}

// StoreAPI is a payment interface backed by a merchant store's HTTP API.
// auth_source asks the store to check the order, capture_source withdraws
// it, and void refunds a withdrawal made earlier. Destination steps are
// identity.
type StoreAPI struct {
	client  Doer
	logger  *zap.Logger
	breaker *CircuitBreaker
	backoff resilience.BackoffStrategy
	id      string
	config  StoreAPIConfig
}

// NewStoreAPI creates a store API payment interface registered under id
func NewStoreAPI(id string, cfg StoreAPIConfig, client Doer, logger *zap.Logger) *StoreAPI {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Breaker.IsFailure = pkgerrors.IsRetriable
	gauge := circuitStateGauge.WithLabelValues(id)
	gauge.Set(float64(StateClosed))

	return &StoreAPI{
		id:      id,
		config:  cfg,
		client:  client,
		logger:  logger.With(zap.String("paysys_id", id)),
		breaker: NewCircuitBreaker(cfg.Breaker, func(s CircuitState) { gauge.Set(float64(s)) }),
		backoff: resilience.DefaultExponentialBackoff(),
	}
}

// PaysysID implements Interface
func (s *StoreAPI) PaysysID() string {
	return s.id
}

// AuthSource asks the store to confirm the order can be paid
func (s *StoreAPI) AuthSource(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	resp, err := s.call(ctx, "check", tx)
	if err != nil {
		return nil, err
	}
	if !resp.Approved {
		return nil, pkgerrors.NewDeclineError("STORE_CHECK_FAILED", "store checking failed").
			WithDetail("reason", resp.Reason)
	}
	tx.MergeExtraInfo(resp.extraInfo(extraStoreCheckRef))
	return tx, nil
}

// CaptureSource withdraws the order amount in the store
func (s *StoreAPI) CaptureSource(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	resp, err := s.call(ctx, "withdraw", tx)
	if err != nil {
		return nil, err
	}
	if !resp.Approved {
		return nil, pkgerrors.NewDeclineError("STORE_WITHDRAW_FAILED", "store withdrawal failed").
			WithDetail("reason", resp.Reason)
	}
	tx.MergeExtraInfo(resp.extraInfo(extraStoreWithdrawal))
	return tx, nil
}

// Void refunds a withdrawal made by CaptureSource. Without a recorded
// withdrawal there is nothing to reverse.
func (s *StoreAPI) Void(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if _, withdrawn := tx.ExtraInfo[extraStoreWithdrawal]; !withdrawn {
		return tx, nil
	}
	resp, err := s.call(ctx, "refund", tx)
	if err != nil {
		return nil, err
	}
	if !resp.Approved {
		return nil, pkgerrors.NewDeclineError("STORE_REFUND_FAILED", "store refund failed").
			WithDetail("reason", resp.Reason)
	}
	tx.MergeExtraInfo(resp.extraInfo(extraStoreRefund))
	return tx, nil
}

type storeRequest struct {
	Source        map[string]interface{} `json:"source,omitempty"`
	ExtraInfo     map[string]interface{} `json:"extra_info,omitempty"`
	TransactionID string                 `json:"transaction_id"`
	Amount        string                 `json:"amount"`
	Currency      string                 `json:"currency,omitempty"`
	Description   string                 `json:"description,omitempty"`
}

type storeResponse struct {
	Reason      string `json:"reason"`
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
	Approved    bool   `json:"approved"`
}

func (r *storeResponse) extraInfo(referenceKey string) map[string]interface{} {
	info := make(map[string]interface{}, 2)
	if r.Reference != "" {
		info[referenceKey] = r.Reference
	}
	if r.RedirectURL != "" {
		info[domain.RedirectURLKey] = r.RedirectURL
	}
	return info
}

func (s *StoreAPI) call(ctx context.Context, operation string, tx *domain.Transaction) (*storeResponse, error) {
	body, err := json.Marshal(storeRequest{
		TransactionID: tx.ID,
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		Description:   tx.Description,
		Source:        tx.Source,
		ExtraInfo:     tx.ExtraInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal store %s request: %w", operation, err)
	}

	var resp *storeResponse
	err = s.breaker.Call(func() error {
		return resilience.Retry(ctx, s.config.MaxRetries+1, s.backoff, pkgerrors.IsRetriable,
			func(attempt int, err error) {
				s.logger.Warn("Retrying store API request",
					zap.String("operation", operation),
					zap.String("transaction_id", tx.ID),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			},
			func(ctx context.Context) error {
				r, err := s.do(ctx, operation, tx.ID, body)
				if err != nil {
					return err
				}
				resp = r
				return nil
			})
	})

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		s.logger.Warn("Circuit breaker rejected store API request",
			zap.String("operation", operation),
			zap.String("circuit_state", s.breaker.State().String()),
		)
		return nil, pkgerrors.NewPaymentError("STORE_UNAVAILABLE", "store API circuit open",
			pkgerrors.CategorySystemError, true).WithCause(err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *StoreAPI) do(ctx context.Context, operation, txID string, body []byte) (*storeResponse, error) {
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/"+operation, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create store %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", txID+":"+operation)

	startTime := time.Now()
	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, s.transportError(operation, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, s.transportError(operation, err)
	}

	s.logger.Debug("Store API response",
		zap.String("operation", operation),
		zap.String("transaction_id", txID),
		zap.Int("status_code", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(startTime)),
	)

	switch {
	case httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, pkgerrors.NewPaymentError("STORE_UNAVAILABLE",
			fmt.Sprintf("store %s returned %d", operation, httpResp.StatusCode),
			pkgerrors.CategorySystemError, true)
	case httpResp.StatusCode >= 400:
		pe := pkgerrors.NewPaymentError("STORE_REJECTED",
			fmt.Sprintf("store %s returned %d", operation, httpResp.StatusCode),
			pkgerrors.CategoryInvalidRequest, false)
		pe.GatewayMessage = strings.TrimSpace(string(respBody))
		return nil, pe
	}

	var parsed storeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, pkgerrors.NewPaymentError("STORE_BAD_RESPONSE",
			fmt.Sprintf("store %s returned an unreadable body", operation),
			pkgerrors.CategorySystemError, false).WithCause(err)
	}
	return &parsed, nil
}

func (s *StoreAPI) transportError(operation string, err error) error {
	var netErr net.Error
	retriable := errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
	return pkgerrors.NewPaymentError("STORE_NETWORK_ERROR",
		fmt.Sprintf("store %s request failed", operation),
		pkgerrors.CategoryNetworkError, retriable).WithCause(err)
}

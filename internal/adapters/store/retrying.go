// Package store holds backend-independent TransactionStore decorators
package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	"github.com/kevin07696/processing-service/pkg/resilience"
)

var storeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "processing_store_retries_total",
	Help: "Store operations retried after a transient failure",
}, []string{"operation"})

// Retrying retries store calls that fail with a transient error. Any other
// error, or the last transient one, is returned as is.
type Retrying struct {
	next        ports.TransactionStore
	isTransient func(error) bool
	backoff     resilience.BackoffStrategy
	logger      *zap.Logger
	maxAttempts int
}

// NewRetrying wraps next. maxRetries is the number of retries after the
// first attempt.
func NewRetrying(next ports.TransactionStore, isTransient func(error) bool, maxRetries int, logger *zap.Logger) *Retrying {
	return &Retrying{
		next:        next,
		isTransient: isTransient,
		backoff:     resilience.StoreReconnectBackoff(),
		logger:      logger,
		maxAttempts: maxRetries + 1,
	}
}

// WithBackoff replaces the delay strategy
func (r *Retrying) WithBackoff(b resilience.BackoffStrategy) *Retrying {
	r.backoff = b
	return r
}

var _ ports.TransactionStore = (*Retrying)(nil)

func (r *Retrying) do(ctx context.Context, operation, id string, fn func(ctx context.Context) error) error {
	return resilience.Retry(ctx, r.maxAttempts, r.backoff, r.isTransient,
		func(attempt int, err error) {
			storeRetries.WithLabelValues(operation).Inc()
			r.logger.Warn("Transient store failure, retrying",
				zap.String("operation", operation),
				zap.String("transaction_id", id),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
		fn)
}

// Load implements ports.TransactionStore
func (r *Retrying) Load(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	var (
		tx    *domain.Transaction
		found bool
	)
	err := r.do(ctx, "load", id, func(ctx context.Context) error {
		var err error
		tx, found, err = r.next.Load(ctx, id)
		return err
	})
	return tx, found, err
}

// Save implements ports.TransactionStore. A retry that finds the record
// already present reports TXN_ALREADY_EXISTS; callers treat that as a
// duplicate and reload.
func (r *Retrying) Save(ctx context.Context, tx *domain.Transaction) error {
	return r.do(ctx, "save", tx.ID, func(ctx context.Context) error {
		return r.next.Save(ctx, tx)
	})
}

// UpdateStatus implements ports.TransactionStore. When an earlier attempt
// may have been applied before its connection failed, a guard conflict on
// retry is accepted if the stored status is already the target.
func (r *Retrying) UpdateStatus(ctx context.Context, id string, status domain.Status, opts ...ports.UpdateOption) error {
	attempt := 0
	return r.do(ctx, "update_status", id, func(ctx context.Context) error {
		attempt++
		err := r.next.UpdateStatus(ctx, id, status, opts...)
		if attempt > 1 && domain.IsDomainError(err, domain.ErrorCodeTxnStatusConflict) {
			if current, found, loadErr := r.next.Load(ctx, id); loadErr == nil && found && current.Status == status {
				return nil
			}
		}
		return err
	})
}

// ListStale implements ports.StaleTransactionLister when the wrapped store
// does
func (r *Retrying) ListStale(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error) {
	lister, ok := r.next.(ports.StaleTransactionLister)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeInternalError, "store cannot list stale transactions")
	}
	var out []*domain.Transaction
	err := r.do(ctx, "list_stale", "", func(ctx context.Context) error {
		var err error
		out, err = lister.ListStale(ctx, before, limit)
		return err
	})
	return out, err
}

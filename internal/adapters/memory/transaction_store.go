// Package memory provides in-process implementations of the processing
// ports for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
)

// TransactionStore keeps transactions in a map
type TransactionStore struct {
	txs map[string]*domain.Transaction
	now func() time.Time
	mu  sync.RWMutex
}

// NewTransactionStore creates an empty store
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		txs: make(map[string]*domain.Transaction),
		now: time.Now,
	}
}

var (
	_ ports.TransactionStore       = (*TransactionStore)(nil)
	_ ports.StaleTransactionLister = (*TransactionStore)(nil)
)

// Load implements ports.TransactionStore
func (s *TransactionStore) Load(_ context.Context, id string) (*domain.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, false, nil
	}
	return tx.Clone(), true, nil
}

// Save implements ports.TransactionStore
func (s *TransactionStore) Save(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return domain.NewDomainError(domain.ErrorCodeTxnAlreadyExists, "transaction already exists").
			WithDetail("transaction_id", tx.ID)
	}

	stored := tx.Clone()
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.txs[tx.ID] = stored
	return nil
}

// UpdateStatus implements ports.TransactionStore
func (s *TransactionStore) UpdateStatus(_ context.Context, id string, status domain.Status, opts ...ports.UpdateOption) error {
	update := ports.ApplyUpdateOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
			WithDetail("transaction_id", id)
	}
	if update.ExpectedStatus != "" && tx.Status != update.ExpectedStatus {
		return domain.NewDomainError(domain.ErrorCodeTxnStatusConflict, "transaction status changed concurrently").
			WithDetail("transaction_id", id).
			WithDetail("expected_status", string(update.ExpectedStatus)).
			WithDetail("actual_status", string(tx.Status))
	}

	tx.Status = status
	tx.MergeExtraInfo(update.ExtraInfo)
	if update.Error != nil {
		tx.SetError(*update.Error)
	}
	tx.UpdatedAt = s.now()
	return nil
}

// ListStale implements ports.StaleTransactionLister
func (s *TransactionStore) ListStale(_ context.Context, before time.Time, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for _, tx := range s.txs {
		if !tx.Status.IsTerminal() && tx.UpdatedAt.Before(before) {
			out = append(out, tx.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored transactions
func (s *TransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

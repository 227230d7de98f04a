// Package redis implements the transaction store on Redis. Each transaction
// is one JSON document under transaction:<id>; status updates are
// optimistic WATCH/MULTI transactions on that key.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
)

const (
	keyPrefix         = "transaction:"
	maxOptimisticTxns = 3
)

// Config configures the Redis client and key retention
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TerminalTTL expires a transaction this long after it reaches SUCCESS
	// or FAIL. Zero keeps it forever.
	TerminalTTL time.Duration
}

// DefaultConfig returns defaults for addr
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		PoolSize:     100,
		MinIdleConns: 20,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  300 * time.Millisecond,
		WriteTimeout: 300 * time.Millisecond,
		TerminalTTL:  30 * 24 * time.Hour,
	}
}

// NewClient creates a client from cfg and checks connectivity
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      2,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 50 * time.Millisecond,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return client, nil
}

// TransactionStore persists transactions as JSON documents
type TransactionStore struct {
	client      redis.UniversalClient
	logger      *zap.Logger
	terminalTTL time.Duration
}

// NewTransactionStore creates a Redis transaction store
func NewTransactionStore(client redis.UniversalClient, terminalTTL time.Duration, logger *zap.Logger) *TransactionStore {
	return &TransactionStore{client: client, terminalTTL: terminalTTL, logger: logger}
}

var _ ports.TransactionStore = (*TransactionStore)(nil)

func key(id string) string {
	return keyPrefix + id
}

// Load implements ports.TransactionStore
func (s *TransactionStore) Load(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrorCodeStorageError, "failed to load transaction", err).
			WithDetail("transaction_id", id)
	}

	tx, err := decode(raw)
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrorCodeStorageError, "failed to decode stored transaction", err).
			WithDetail("transaction_id", id)
	}
	return tx, true, nil
}

// Save implements ports.TransactionStore
func (s *TransactionStore) Save(ctx context.Context, tx *domain.Transaction) error {
	stored := tx.Clone()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	raw, err := json.Marshal(stored)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "failed to encode transaction", err)
	}

	created, err := s.client.SetNX(ctx, key(tx.ID), raw, 0).Result()
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "failed to save transaction", err).
			WithDetail("transaction_id", tx.ID)
	}
	if !created {
		return domain.NewDomainError(domain.ErrorCodeTxnAlreadyExists, "transaction already exists").
			WithDetail("transaction_id", tx.ID)
	}
	return nil
}

// UpdateStatus implements ports.TransactionStore
func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, status domain.Status, opts ...ports.UpdateOption) error {
	update := ports.ApplyUpdateOptions(opts...)
	k := key(id)

	txf := func(rtx *redis.Tx) error {
		raw, err := rtx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
				WithDetail("transaction_id", id)
		}
		if err != nil {
			return err
		}

		tx, err := decode(raw)
		if err != nil {
			return domain.WrapError(domain.ErrorCodeStorageError, "failed to decode stored transaction", err).
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
		tx.UpdatedAt = time.Now().UTC()

		next, err := json.Marshal(tx)
		if err != nil {
			return domain.WrapError(domain.ErrorCodeStorageError, "failed to encode transaction", err)
		}

		ttl := redis.KeepTTL
		if status.IsTerminal() && s.terminalTTL > 0 {
			ttl = s.terminalTTL
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxOptimisticTxns; attempt++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Optimistic update lost race, retrying",
				zap.String("transaction_id", id),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		var domainErr *domain.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		return domain.WrapError(domain.ErrorCodeStorageError, "failed to update transaction status", err).
			WithDetail("transaction_id", id)
	}

	return domain.NewDomainError(domain.ErrorCodeTxnStatusConflict, "transaction updated concurrently").
		WithDetail("transaction_id", id).
		WithDetail("attempts", maxOptimisticTxns)
}

func decode(raw []byte) (*domain.Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tx domain.Transaction
	if err := dec.Decode(&tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// IsTransient reports whether err is a connectivity failure worth retrying
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "READONLY", "MASTERDOWN", "TRYAGAIN", "CLUSTERDOWN"} {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	return false
}

// Package postgres implements the transaction store on PostgreSQL
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/adapters/database"
	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
)

const (
	selectColumns = `id, paysys_id, status, amount::text, currency, description,
		source, destination, extra_info, error, created_at, updated_at`

	loadQuery = `SELECT ` + selectColumns + ` FROM transactions WHERE id = $1`

	insertQuery = `INSERT INTO transactions
		(id, paysys_id, status, amount, currency, description, source, destination, extra_info, error)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10)`

	// One statement so the status, extra_info merge and error land together.
	// $5 = '' disables the status guard.
	updateStatusQuery = `UPDATE transactions SET
		status = $2,
		extra_info = CASE WHEN $3::jsonb IS NULL THEN extra_info ELSE extra_info || $3::jsonb END,
		error = COALESCE($4::text, error),
		updated_at = NOW()
		WHERE id = $1 AND ($5::text = '' OR status = $5::text)`

	listStaleQuery = `SELECT ` + selectColumns + ` FROM transactions
		WHERE status NOT IN ('SUCCESS', 'FAIL') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`
)

const uniqueViolation = "23505"

// TransactionStore persists transactions in the transactions table
type TransactionStore struct {
	db     *database.PostgreSQLAdapter
	logger *zap.Logger
}

// NewTransactionStore creates a PostgreSQL transaction store
func NewTransactionStore(db *database.PostgreSQLAdapter, logger *zap.Logger) *TransactionStore {
	return &TransactionStore{db: db, logger: logger}
}

var (
	_ ports.TransactionStore       = (*TransactionStore)(nil)
	_ ports.StaleTransactionLister = (*TransactionStore)(nil)
)

// Load implements ports.TransactionStore
func (s *TransactionStore) Load(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	tx, err := scanTransaction(s.db.DB().QueryRow(ctx, loadQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrorCodeStorageError, "failed to load transaction", err).
			WithDetail("transaction_id", id)
	}
	return tx, true, nil
}

// Save implements ports.TransactionStore
func (s *TransactionStore) Save(ctx context.Context, tx *domain.Transaction) error {
	source, err := marshalJSON(tx.Source)
	if err != nil {
		return err
	}
	destination, err := marshalJSON(tx.Destination)
	if err != nil {
		return err
	}
	extraInfo, err := marshalJSON(tx.ExtraInfo)
	if err != nil {
		return err
	}

	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	_, err = s.db.DB().Exec(ctx, insertQuery,
		tx.ID, tx.PaysysID, string(tx.Status), tx.Amount.String(), tx.Currency, tx.Description,
		source, destination, extraInfo, tx.Error,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.WrapError(domain.ErrorCodeTxnAlreadyExists, "transaction already exists", err).
				WithDetail("transaction_id", tx.ID)
		}
		return domain.WrapError(domain.ErrorCodeStorageError, "failed to save transaction", err).
			WithDetail("transaction_id", tx.ID)
	}

	s.logger.Debug("Transaction saved",
		zap.String("transaction_id", tx.ID),
		zap.String("status", string(tx.Status)),
	)
	return nil
}

// UpdateStatus implements ports.TransactionStore
func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, status domain.Status, opts ...ports.UpdateOption) error {
	update := ports.ApplyUpdateOptions(opts...)

	var extraInfo *string
	if len(update.ExtraInfo) > 0 {
		raw, err := marshalJSON(update.ExtraInfo)
		if err != nil {
			return err
		}
		extraInfo = &raw
	}

	qctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	tag, err := s.db.DB().Exec(qctx, updateStatusQuery,
		id, string(status), extraInfo, update.Error, string(update.ExpectedStatus),
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "failed to update transaction status", err).
			WithDetail("transaction_id", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, found, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").
			WithDetail("transaction_id", id)
	}
	return domain.NewDomainError(domain.ErrorCodeTxnStatusConflict, "transaction status changed concurrently").
		WithDetail("transaction_id", id).
		WithDetail("expected_status", string(update.ExpectedStatus)).
		WithDetail("actual_status", string(current.Status))
}

// ListStale implements ports.StaleTransactionLister
func (s *TransactionStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error) {
	ctx, cancel := s.db.ComplexQueryContext(ctx)
	defer cancel()

	rows, err := s.db.DB().Query(ctx, listStaleQuery, before, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "failed to list stale transactions", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeStorageError, "failed to scan transaction", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "failed to list stale transactions", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx                             domain.Transaction
		status, amount                 string
		source, destination, extraInfo []byte
	)
	err := row.Scan(&tx.ID, &tx.PaysysID, &status, &amount, &tx.Currency, &tx.Description,
		&source, &destination, &extraInfo, &tx.Error, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.Status = domain.Status(status)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	if tx.Source, err = unmarshalJSON(source); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	if tx.Destination, err = unmarshalJSON(destination); err != nil {
		return nil, fmt.Errorf("decode destination: %w", err)
	}
	if tx.ExtraInfo, err = unmarshalJSON(extraInfo); err != nil {
		return nil, fmt.Errorf("decode extra_info: %w", err)
	}
	return &tx, nil
}

func marshalJSON(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodeStorageError, "failed to encode transaction field", err)
	}
	return string(b), nil
}

// unmarshalJSON keeps numbers as json.Number so amounts inside the
// opaque maps survive a round trip unchanged
func unmarshalJSON(b []byte) (map[string]interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// IsTransient reports whether err is a connectivity failure worth retrying
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08": // connection_exception
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P03": // admin_shutdown, cannot_connect_now
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

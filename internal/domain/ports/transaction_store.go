package ports

import (
	"context"
	"time"

	"github.com/kevin07696/processing-service/internal/domain"
)

// TransactionStore persists transactions between processing stages
type TransactionStore interface {
	// Load returns the stored transaction. found is false when no record
	// with that id exists; err is reserved for storage faults.
	Load(ctx context.Context, id string) (tx *domain.Transaction, found bool, err error)

	// Save inserts a new transaction. A record with the same id yields an
	// error carrying domain.ErrorCodeTxnAlreadyExists.
	Save(ctx context.Context, tx *domain.Transaction) error

	// UpdateStatus sets the status and applies the options in one atomic write
	UpdateStatus(ctx context.Context, id string, status domain.Status, opts ...UpdateOption) error
}

// StaleTransactionLister is implemented by stores that can find
// transactions left in a non-terminal status
type StaleTransactionLister interface {
	// ListStale returns up to limit non-terminal transactions not updated
	// since before, oldest first
	ListStale(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error)
}

// StatusUpdate collects the optional parts of an UpdateStatus call
type StatusUpdate struct {
	ExtraInfo      map[string]interface{}
	Error          *string
	ExpectedStatus domain.Status
}

// UpdateOption configures a StatusUpdate
type UpdateOption func(*StatusUpdate)

// WithError stores msg in the transaction's error field
func WithError(msg string) UpdateOption {
	return func(u *StatusUpdate) {
		u.Error = &msg
	}
}

// WithExtraInfo merges info into the stored extra_info
func WithExtraInfo(info map[string]interface{}) UpdateOption {
	return func(u *StatusUpdate) {
		if len(info) == 0 {
			return
		}
		if u.ExtraInfo == nil {
			u.ExtraInfo = make(map[string]interface{}, len(info))
		}
		for k, v := range info {
			u.ExtraInfo[k] = v
		}
	}
}

// ExpectStatus makes the update conditional on the stored status. A mismatch
// yields an error carrying domain.ErrorCodeTxnStatusConflict.
func ExpectStatus(status domain.Status) UpdateOption {
	return func(u *StatusUpdate) {
		u.ExpectedStatus = status
	}
}

// ApplyUpdateOptions folds opts into a StatusUpdate
func ApplyUpdateOptions(opts ...UpdateOption) StatusUpdate {
	var u StatusUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

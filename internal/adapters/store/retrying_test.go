package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/adapters/memory"
	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	"github.com/kevin07696/processing-service/pkg/resilience"
)

var errTransient = errors.New("connection reset")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	args := m.Called(ctx, id)
	tx, _ := args.Get(0).(*domain.Transaction)
	return tx, args.Bool(1), args.Error(2)
}

func (m *mockStore) Save(ctx context.Context, tx *domain.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *mockStore) UpdateStatus(ctx context.Context, id string, status domain.Status, opts ...ports.UpdateOption) error {
	return m.Called(ctx, id, status).Error(0)
}

func newRetrying(next ports.TransactionStore, retries int) *Retrying {
	return NewRetrying(next, isTransient, retries, zap.NewNop()).
		WithBackoff(&resilience.FixedBackoff{Delay: time.Millisecond})
}

func TestRetrying_RetriesTransient(t *testing.T) {
	m := &mockStore{}
	m.On("Load", mock.Anything, "tx-1").Return(nil, false, errTransient).Twice()
	m.On("Load", mock.Anything, "tx-1").Return(&domain.Transaction{ID: "tx-1"}, true, nil).Once()

	tx, found, err := newRetrying(m, 3).Load(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tx-1", tx.ID)
	m.AssertNumberOfCalls(t, "Load", 3)
}

func TestRetrying_GivesUp(t *testing.T) {
	m := &mockStore{}
	m.On("Save", mock.Anything, mock.Anything).Return(errTransient)

	err := newRetrying(m, 2).Save(context.Background(), &domain.Transaction{ID: "tx-1"})
	assert.ErrorIs(t, err, errTransient)
	m.AssertNumberOfCalls(t, "Save", 3)
}

func TestRetrying_PermanentErrorNotRetried(t *testing.T) {
	m := &mockStore{}
	m.On("Save", mock.Anything, mock.Anything).Return(domain.ErrTxnAlreadyExists)

	err := newRetrying(m, 5).Save(context.Background(), &domain.Transaction{ID: "tx-1"})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnAlreadyExists))
	m.AssertNumberOfCalls(t, "Save", 1)
}

func TestRetrying_UpdateAppliedBeforeFailure(t *testing.T) {
	m := &mockStore{}
	m.On("UpdateStatus", mock.Anything, "tx-1", domain.StatusAuthDestination).Return(errTransient).Once()
	m.On("UpdateStatus", mock.Anything, "tx-1", domain.StatusAuthDestination).Return(domain.ErrTxnStatusConflict).Once()
	m.On("Load", mock.Anything, "tx-1").Return(&domain.Transaction{ID: "tx-1", Status: domain.StatusAuthDestination}, true, nil)

	err := newRetrying(m, 3).UpdateStatus(context.Background(), "tx-1", domain.StatusAuthDestination,
		ports.ExpectStatus(domain.StatusAuthSource))
	assert.NoError(t, err)
}

func TestRetrying_FirstAttemptConflictSurfaces(t *testing.T) {
	m := &mockStore{}
	m.On("UpdateStatus", mock.Anything, "tx-1", domain.StatusAuthDestination).Return(domain.ErrTxnStatusConflict)

	err := newRetrying(m, 3).UpdateStatus(context.Background(), "tx-1", domain.StatusAuthDestination,
		ports.ExpectStatus(domain.StatusAuthSource))
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnStatusConflict))
	m.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestRetrying_ListStale(t *testing.T) {
	mem := memory.NewTransactionStore()
	require.NoError(t, mem.Save(context.Background(), &domain.Transaction{ID: "tx-1", Status: domain.StatusVoid}))

	stale, err := newRetrying(mem, 1).ListStale(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	_, err = newRetrying(&mockStore{}, 1).ListStale(context.Background(), time.Now(), 10)
	assert.Error(t, err)
}

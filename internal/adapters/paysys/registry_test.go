package paysys

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
)

// authOnlyPI implements AuthSource and nothing else
type authOnlyPI struct {
	id   string
	auth StepFunc
}

func (p *authOnlyPI) PaysysID() string { return p.id }

func (p *authOnlyPI) AuthSource(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	return p.auth(ctx, tx)
}

func newTx() *domain.Transaction {
	return &domain.Transaction{
		ID:       "tx-1",
		PaysysID: "store",
		Amount:   decimal.RequireFromString("10.50"),
		Currency: "USD",
		Status:   domain.StatusAuthSource,
		Source:   map[string]interface{}{"card": map[string]interface{}{"last4": "4242"}},
	}
}

func TestRegistry_UnimplementedStepIsIdentity(t *testing.T) {
	r := NewRegistry(zap.NewNop(), NewPassthrough("store"))
	tx := newTx()

	for _, step := range domain.Steps {
		out, err := r.Process(context.Background(), "store", step, tx)
		require.NoError(t, err, step)
		assert.Equal(t, tx.ID, out.ID)
		assert.Equal(t, tx.Source, out.Source)
	}
}

func TestRegistry_Process(t *testing.T) {
	tests := []struct {
		name     string
		paysysID string
		step     domain.Step
		auth     StepFunc
		wantCode domain.ErrorCode
		wantErr  error
	}{
		{
			name:     "unregistered interface",
			paysysID: "missing",
			step:     domain.StepAuthSource,
			wantCode: domain.ErrorCodeInterfaceNotFound,
		},
		{
			name:     "unknown step",
			paysysID: "store",
			step:     domain.Step("refund_destination"),
			wantCode: domain.ErrorCodeStepNotFound,
		},
		{
			name:     "nil result",
			paysysID: "store",
			step:     domain.StepAuthSource,
			auth: func(context.Context, *domain.Transaction) (*domain.Transaction, error) {
				return nil, nil
			},
			wantCode: domain.ErrorCodeEmptyResult,
		},
		{
			name:     "amount changed",
			paysysID: "store",
			step:     domain.StepAuthSource,
			auth: func(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
				tx.Amount = decimal.NewFromInt(1)
				return tx, nil
			},
			wantCode: domain.ErrorCodeImmutableFieldChanged,
		},
		{
			name:     "id changed",
			paysysID: "store",
			step:     domain.StepAuthSource,
			auth: func(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
				tx.ID = "other"
				return tx, nil
			},
			wantCode: domain.ErrorCodeImmutableFieldChanged,
		},
		{
			name:     "step error passes through",
			paysysID: "store",
			step:     domain.StepAuthSource,
			auth: func(context.Context, *domain.Transaction) (*domain.Transaction, error) {
				return nil, errBoom
			},
			wantErr: errBoom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := tt.auth
			if auth == nil {
				auth = identity
			}
			r := NewRegistry(zap.NewNop(), &authOnlyPI{id: "store", auth: auth})

			out, err := r.Process(context.Background(), tt.paysysID, tt.step, newTx())

			require.Error(t, err)
			assert.Nil(t, out)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, domain.IsDecline(err))
				return
			}
			assert.Equal(t, tt.wantCode, domain.GetErrorCode(err))
			assert.True(t, domain.IsDecline(err))
		})
	}
}

var errBoom = errors.New("boom")

func TestRegistry_StepWorksOnCopy(t *testing.T) {
	pi := &authOnlyPI{id: "store", auth: func(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
		tx.Source["card"].(map[string]interface{})["last4"] = "0000"
		tx.MergeExtraInfo(map[string]interface{}{"auth_code": "A1"})
		return tx, nil
	}}
	r := NewRegistry(zap.NewNop(), pi)
	tx := newTx()

	out, err := r.Process(context.Background(), "store", domain.StepAuthSource, tx)
	require.NoError(t, err)

	assert.Equal(t, "A1", out.ExtraInfo["auth_code"])
	assert.Nil(t, tx.ExtraInfo)
	assert.Equal(t, "4242", tx.Source["card"].(map[string]interface{})["last4"])
}

func TestRegistry_RegisterAndReplace(t *testing.T) {
	r := NewRegistry(zap.NewNop(), NewPassthrough("a"))
	r.Register(NewPassthrough("b"))
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	r.Replace(NewPassthrough("c"))
	assert.Equal(t, []string{"c"}, r.IDs())

	_, ok := r.Lookup("a")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentReplace(t *testing.T) {
	r := NewRegistry(zap.NewNop(), NewPassthrough("store"))
	tx := newTx()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Replace(NewPassthrough("store"), NewPassthrough("other"))
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, err := r.Process(context.Background(), "store", domain.StepCaptureSource, tx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

package paysys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/adapters/secrets"
	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/pkg/crypto"
	pkgerrors "github.com/kevin07696/processing-service/pkg/errors"
)

func newTestDecrypter(t *testing.T) (*Decrypter, *crypto.KeyPair) {
	t.Helper()
	kp, err := crypto.GenerateRSAKeyPair(1024)
	require.NoError(t, err)

	sm := secrets.NewLocalSecretManager(t.TempDir(), zap.NewNop())
	_, err = sm.PutSecret(context.Background(), "processing/private_key", kp.PrivateKeyPEM, nil)
	require.NoError(t, err)

	d, err := LoadDecrypter(context.Background(), sm, "processing/private_key", zap.NewNop())
	require.NoError(t, err)
	return d, kp
}

func encryptedTx(t *testing.T, kp *crypto.KeyPair, plaintext string) *domain.Transaction {
	t.Helper()
	pub, err := crypto.ParsePublicKey(kp.PublicKeyPEM)
	require.NoError(t, err)
	crypted, err := crypto.EncryptBase64(pub, []byte(plaintext))
	require.NoError(t, err)

	tx := newTx()
	tx.Source = map[string]interface{}{
		"payment_requisites": map[string]interface{}{"crypted_payment": crypted},
		"paysys_contract":    map[string]interface{}{"payment_interface": "store"},
	}
	return tx
}

func TestDecrypter_StepSeesPlaintext(t *testing.T) {
	d, kp := newTestDecrypter(t)
	tx := encryptedTx(t, kp, `{"card_number":"4242424242424242","cvv":"123"}`)
	crypted := tx.Source["payment_requisites"].(map[string]interface{})["crypted_payment"]

	var seen map[string]interface{}
	inner := &authOnlyPI{id: "store", auth: func(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
		seen = tx.Source["payment_requisites"].(map[string]interface{})
		tx.MergeExtraInfo(map[string]interface{}{"auth_code": "A1"})
		return tx, nil
	}}
	r := NewRegistry(zap.NewNop(), d.Wrap(inner))

	out, err := r.Process(context.Background(), "store", domain.StepAuthSource, tx)
	require.NoError(t, err)

	assert.Equal(t, "4242424242424242", seen["card_number"])
	assert.Equal(t, "123", seen["cvv"])
	assert.Equal(t, "A1", out.ExtraInfo["auth_code"])
	assert.Equal(t, map[string]interface{}{"crypted_payment": crypted}, out.Source["payment_requisites"])
	assert.Equal(t, tx.Source["paysys_contract"], out.Source["paysys_contract"])
}

func TestDecrypter_NoRequisitesPassesThrough(t *testing.T) {
	d, _ := newTestDecrypter(t)
	called := false
	inner := &authOnlyPI{id: "store", auth: func(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
		called = true
		return tx, nil
	}}
	r := NewRegistry(zap.NewNop(), d.Wrap(inner))

	tx := newTx()
	out, err := r.Process(context.Background(), "store", domain.StepAuthSource, tx)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, tx.Source, out.Source)
}

func TestDecrypter_GarbageIsDecline(t *testing.T) {
	d, _ := newTestDecrypter(t)
	r := NewRegistry(zap.NewNop(), d.Wrap(NewPassthrough("store")))

	tx := newTx()
	tx.Source = map[string]interface{}{
		"payment_requisites": map[string]interface{}{"crypted_payment": "bm90IGVuY3J5cHRlZA=="},
	}

	_, err := r.Process(context.Background(), "store", domain.StepCaptureSource, tx)
	require.Error(t, err)

	pe, ok := pkgerrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, "REQUISITES_UNREADABLE", pe.Code)
	assert.True(t, domain.IsDecline(err))
}

func TestDecrypter_WrapKeepsID(t *testing.T) {
	d, _ := newTestDecrypter(t)
	assert.Equal(t, "store", d.Wrap(NewPassthrough("store")).PaysysID())
}

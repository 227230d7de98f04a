package paysys

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	"github.com/kevin07696/processing-service/pkg/crypto"
	pkgerrors "github.com/kevin07696/processing-service/pkg/errors"
)

const (
	requisitesKey     = "payment_requisites"
	cryptedPaymentKey = "crypted_payment"
)

// Decrypter opens the encrypted payment requisites producers attach to a
// transaction source.
type Decrypter struct {
	key    *rsa.PrivateKey
	logger *zap.Logger
}

// NewDecrypter creates a decrypter from a parsed private key
func NewDecrypter(key *rsa.PrivateKey, logger *zap.Logger) *Decrypter {
	return &Decrypter{key: key, logger: logger}
}

// LoadDecrypter reads a PEM private key from the secret manager
func LoadDecrypter(ctx context.Context, sm ports.SecretManager, path string, logger *zap.Logger) (*Decrypter, error) {
	secret, err := sm.GetSecret(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load private key %s: %w", path, err)
	}
	key, err := crypto.ParsePrivateKey(secret.Value)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	logger.Info("Payment requisites key loaded",
		zap.String("path", path),
		zap.String("version", secret.Version),
	)
	return NewDecrypter(key, logger), nil
}

// Wrap returns pi decorated so every step sees decrypted requisites. Steps
// pi does not implement stay identity.
func (d *Decrypter) Wrap(pi Interface) Interface {
	return &decrypting{inner: pi, d: d}
}

// open returns a copy of source with the decrypted requisites merged in.
// ok is false when the source carries nothing to decrypt.
func (d *Decrypter) open(source map[string]interface{}) (map[string]interface{}, bool, error) {
	requisites, _ := source[requisitesKey].(map[string]interface{})
	encoded, _ := requisites[cryptedPaymentKey].(string)
	if encoded == "" {
		return nil, false, nil
	}

	plain, err := crypto.DecryptBase64(d.key, encoded)
	if err != nil {
		return nil, false, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(plain, &fields); err != nil {
		return nil, false, fmt.Errorf("decode decrypted requisites: %w", err)
	}

	opened := make(map[string]interface{}, len(requisites)+len(fields))
	for k, v := range requisites {
		opened[k] = v
	}
	for k, v := range fields {
		opened[k] = v
	}

	out := make(map[string]interface{}, len(source))
	for k, v := range source {
		out[k] = v
	}
	out[requisitesKey] = opened
	return out, true, nil
}

type decrypting struct {
	inner Interface
	d     *Decrypter
}

func (w *decrypting) PaysysID() string {
	return w.inner.PaysysID()
}

func (w *decrypting) run(ctx context.Context, step domain.Step, tx *domain.Transaction) (*domain.Transaction, error) {
	fn, ok := Resolve(w.inner, step)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeStepNotFound, "processing step not found").
			WithDetail("step", string(step))
	}

	sealed := tx.Source
	opened, decrypted, err := w.d.open(sealed)
	if err != nil {
		w.d.logger.Warn("Failed to decrypt payment requisites",
			zap.String("transaction_id", tx.ID),
			zap.String("paysys_id", w.inner.PaysysID()),
			zap.Error(err),
		)
		return nil, pkgerrors.NewDeclineError("REQUISITES_UNREADABLE", "payment requisites could not be decrypted").
			WithCause(err)
	}
	if !decrypted {
		return fn(ctx, tx)
	}

	tx.Source = opened
	out, err := fn(ctx, tx)
	if out != nil {
		out.Source = reseal(out.Source, sealed)
	}
	return out, err
}

// reseal drops the plaintext requisites, keeping only the ciphertext
func reseal(source, sealed map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(source))
	for k, v := range source {
		out[k] = v
	}
	out[requisitesKey] = map[string]interface{}{
		cryptedPaymentKey: sealed[requisitesKey].(map[string]interface{})[cryptedPaymentKey],
	}
	return out
}

func (w *decrypting) AuthSource(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	return w.run(ctx, domain.StepAuthSource, tx)
}

func (w *decrypting) AuthDestination(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	return w.run(ctx, domain.StepAuthDestination, tx)
}

func (w *decrypting) CaptureSource(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	return w.run(ctx, domain.StepCaptureSource, tx)
}

func (w *decrypting) CaptureDestination(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	return w.run(ctx, domain.StepCaptureDestination, tx)
}

func (w *decrypting) Void(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	return w.run(ctx, domain.StepVoid, tx)
}

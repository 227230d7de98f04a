package ports

import (
	"context"
	"errors"
)

// ErrSecretNotFound is wrapped by every backend when a path has no secret
var ErrSecretNotFound = errors.New("secret not found")

// Secret represents a retrieved secret with metadata
type Secret struct {
	Metadata  map[string]string
	Value     string
	Version   string
	CreatedAt string
}

// SecretManager reads and writes secrets such as the RSA private key used
// to decrypt payment requisites. Backends: local filesystem, AWS Secrets
// Manager, HashiCorp Vault.
type SecretManager interface {
	// GetSecret retrieves the current version of a secret by path
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// PutSecret creates or updates a secret and returns its new version
	PutSecret(ctx context.Context, path string, value string, metadata map[string]string) (version string, err error)
}

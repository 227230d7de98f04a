package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain/ports"
)

// LocalSecretManager keeps secrets as files under a base directory. It is
// meant for development and tests; production deployments use AWS Secrets
// Manager or Vault.
type LocalSecretManager struct {
	logger   *zap.Logger
	basePath string
}

var _ ports.SecretManager = (*LocalSecretManager)(nil)

// NewLocalSecretManager creates a secret manager rooted at basePath
func NewLocalSecretManager(basePath string, logger *zap.Logger) *LocalSecretManager {
	return &LocalSecretManager{basePath: basePath, logger: logger}
}

// envelope is the on-disk format written by PutSecret
type envelope struct {
	Metadata  map[string]string `json:"metadata,omitempty"`
	Value     string            `json:"value"`
	CreatedAt string            `json:"created_at"`
}

// resolve maps a secret path to a file, refusing paths that leave basePath
func (m *LocalSecretManager) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "", fmt.Errorf("empty secret path")
	}
	full := filepath.Join(m.basePath, clean)
	if rel, err := filepath.Rel(m.basePath, full); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("secret path %q escapes %s", path, m.basePath)
	}
	return full, nil
}

// version derives a stable version id from the stored bytes
func version(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}

// GetSecret reads a secret file. Files written by PutSecret are JSON
// envelopes; anything else, such as a PEM key dropped in by hand, is
// returned verbatim.
func (m *LocalSecretManager) GetSecret(_ context.Context, path string) (*ports.Secret, error) {
	file, err := m.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", path, err)
	}

	secret := &ports.Secret{Value: string(data), Version: version(data)}
	var env envelope
	if json.Unmarshal(data, &env) == nil && env.Value != "" {
		secret.Value = env.Value
		secret.Metadata = env.Metadata
		secret.CreatedAt = env.CreatedAt
	}

	m.logger.Debug("Secret read from filesystem",
		zap.String("path", path),
		zap.String("version", secret.Version),
	)
	return secret, nil
}

// PutSecret writes value as a JSON envelope, replacing any previous version
func (m *LocalSecretManager) PutSecret(_ context.Context, path, value string, metadata map[string]string) (string, error) {
	file, err := m.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(envelope{
		Value:     value,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode secret %s: %w", path, err)
	}

	// rename keeps readers from seeing a half-written key
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write secret %s: %w", path, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write secret %s: %w", path, err)
	}

	v := version(data)
	m.logger.Info("Secret stored on filesystem", zap.String("path", path), zap.String("version", v))
	return v, nil
}

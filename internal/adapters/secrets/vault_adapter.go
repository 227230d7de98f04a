package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain/ports"
)

// valueField is the KV field holding the secret itself; other string fields
// are metadata
const valueField = "value"

// VaultConfig configures the HashiCorp Vault backend
type VaultConfig struct {
	Address string

	// AuthMethod is one of "token", "approle", "kubernetes"
	AuthMethod string

	Token string

	RoleID   string
	SecretID string

	K8sTokenPath string
	K8sRole      string

	// Namespace is a Vault Enterprise namespace
	Namespace string

	// MountPath of the KV engine, "secret" by default
	MountPath string

	// KVVersion is "v1" or "v2"
	KVVersion string

	CacheTTL    time.Duration
	EnableCache bool

	TLSSkipVerify bool
}

// DefaultVaultConfig returns token-auth defaults against a KV v2 mount
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:      address,
		AuthMethod:   "token",
		MountPath:    "secret",
		KVVersion:    "v2",
		K8sTokenPath: "/var/run/secrets/kubernetes.io/serviceaccount/token",
		CacheTTL:     5 * time.Minute,
		EnableCache:  true,
	}
}

// kvStore hides the difference between the KV v1 and v2 clients
type kvStore interface {
	Get(ctx context.Context, path string) (*vault.KVSecret, error)
	Put(ctx context.Context, path string, data map[string]interface{}) (*vault.KVSecret, error)
}

type kvV1 struct{ *vault.KVv1 }

func (k kvV1) Put(ctx context.Context, path string, data map[string]interface{}) (*vault.KVSecret, error) {
	return nil, k.KVv1.Put(ctx, path, data)
}

type kvV2 struct{ *vault.KVv2 }

func (k kvV2) Put(ctx context.Context, path string, data map[string]interface{}) (*vault.KVSecret, error) {
	return k.KVv2.Put(ctx, path, data)
}

// VaultSecretManager stores secrets in a Vault KV engine
type VaultSecretManager struct {
	kv     kvStore
	logger *zap.Logger
	cache  *secretCache
}

var _ ports.SecretManager = (*VaultSecretManager)(nil)

// NewVaultAdapter creates a Vault client, logs in with the configured
// method and returns the backend
func NewVaultAdapter(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (*VaultSecretManager, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault backend initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
		zap.String("kv_version", cfg.KVVersion),
	)
	return newVaultSecretManager(client, cfg, logger), nil
}

func newVaultSecretManager(client *vault.Client, cfg *VaultConfig, logger *zap.Logger) *VaultSecretManager {
	var kv kvStore = kvV2{client.KVv2(cfg.MountPath)}
	if cfg.KVVersion == "v1" {
		kv = kvV1{client.KVv1(cfg.MountPath)}
	}
	return &VaultSecretManager{
		kv:     kv,
		logger: logger,
		cache:  newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg *VaultConfig) error {
	var (
		loginPath string
		data      map[string]interface{}
	)

	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		loginPath = "auth/approle/login"
		data = map[string]interface{}{"role_id": cfg.RoleID, "secret_id": cfg.SecretID}

	case "kubernetes":
		if cfg.K8sTokenPath == "" || cfg.K8sRole == "" {
			return fmt.Errorf("k8s_token_path and k8s_role are required for Kubernetes auth")
		}
		jwt, err := os.ReadFile(cfg.K8sTokenPath)
		if err != nil {
			return fmt.Errorf("failed to read k8s token: %w", err)
		}
		loginPath = "auth/kubernetes/login"
		data = map[string]interface{}{"jwt": string(jwt), "role": cfg.K8sRole}

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}

	resp, err := client.Logical().WriteWithContext(ctx, loginPath, data)
	if err != nil {
		return fmt.Errorf("%s login failed: %w", cfg.AuthMethod, err)
	}
	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("%s login returned no auth info", cfg.AuthMethod)
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}

// GetSecret reads the value field of the KV secret at path
func (v *VaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := v.cache.get(path); cached != nil {
		return cached, nil
	}

	kvs, err := v.kv.Get(ctx, path)
	if errors.Is(err, vault.ErrSecretNotFound) {
		return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s from Vault: %w", path, err)
	}

	secret := &ports.Secret{Version: versionOf(kvs), Metadata: map[string]string{}}
	if kvs.VersionMetadata != nil {
		secret.CreatedAt = kvs.VersionMetadata.CreatedTime.UTC().Format(time.RFC3339)
	}
	for k, raw := range kvs.Data {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if k == valueField {
			secret.Value = s
		} else {
			secret.Metadata[k] = s
		}
	}
	if secret.Value == "" {
		return nil, fmt.Errorf("%w: %s has no %q field", ports.ErrSecretNotFound, path, valueField)
	}

	v.logger.Debug("Secret read from Vault",
		zap.String("path", path),
		zap.String("version", secret.Version),
	)
	v.cache.set(path, secret)
	return secret, nil
}

// PutSecret writes value with metadata as sibling fields
func (v *VaultSecretManager) PutSecret(ctx context.Context, path, value string, metadata map[string]string) (string, error) {
	defer v.cache.invalidate(path)

	data := make(map[string]interface{}, len(metadata)+1)
	for k, s := range metadata {
		data[k] = s
	}
	data[valueField] = value

	kvs, err := v.kv.Put(ctx, path, data)
	if err != nil {
		return "", fmt.Errorf("failed to write secret %s to Vault: %w", path, err)
	}

	version := versionOf(kvs)
	v.logger.Info("Secret written to Vault", zap.String("path", path), zap.String("version", version))
	return version, nil
}

// versionOf reports the KV v2 version; v1 secrets are unversioned
func versionOf(kvs *vault.KVSecret) string {
	if kvs == nil || kvs.VersionMetadata == nil {
		return "1"
	}
	return strconv.Itoa(kvs.VersionMetadata.Version)
}

package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain/ports"
)

// fakeVault serves a single KV v2 mount at secret/
type fakeVault struct {
	mu      sync.Mutex
	data    map[string]map[string]interface{}
	version map[string]int
	reads   int
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/v1/secret/data/"
	if len(r.URL.Path) <= len(prefix) || r.URL.Path[:len(prefix)] != prefix {
		http.NotFound(w, r)
		return
	}
	path := r.URL.Path[len(prefix):]
	created := "2024-03-01T12:00:00Z"

	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		f.reads++
		data, ok := f.data[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data": data,
				"metadata": map[string]interface{}{
					"created_time":    created,
					"custom_metadata": nil,
					"deletion_time":   "",
					"destroyed":       false,
					"version":         f.version[path],
				},
			},
		})

	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.data[path] = body.Data
		f.version[path]++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"created_time":    created,
				"custom_metadata": nil,
				"deletion_time":   "",
				"destroyed":       false,
				"version":         f.version[path],
			},
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeVault(t *testing.T) (*fakeVault, *VaultSecretManager) {
	t.Helper()
	fake := &fakeVault{
		data:    map[string]map[string]interface{}{},
		version: map[string]int{},
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := DefaultVaultConfig(srv.URL)
	cfg.Token = "test-token"

	vc := vault.DefaultConfig()
	vc.Address = srv.URL
	vc.MaxRetries = 0
	client, err := vault.NewClient(vc)
	require.NoError(t, err)
	require.NoError(t, authenticateVault(context.Background(), client, cfg))

	return fake, newVaultSecretManager(client, cfg, zap.NewNop())
}

func TestVaultSecretManager_PutThenGet(t *testing.T) {
	fake, sm := newFakeVault(t)
	ctx := context.Background()

	version, err := sm.PutSecret(ctx, "processing/key", "pem", map[string]string{"fingerprint": "ab"})
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	for range 2 {
		secret, err := sm.GetSecret(ctx, "processing/key")
		require.NoError(t, err)
		assert.Equal(t, "pem", secret.Value)
		assert.Equal(t, "1", secret.Version)
		assert.Equal(t, "ab", secret.Metadata["fingerprint"])
		assert.Equal(t, "2024-03-01T12:00:00Z", secret.CreatedAt)
	}
	assert.Equal(t, 1, fake.reads, "second read is served from cache")

	version, err = sm.PutSecret(ctx, "processing/key", "pem2", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", version)

	secret, err := sm.GetSecret(ctx, "processing/key")
	require.NoError(t, err)
	assert.Equal(t, "pem2", secret.Value)
}

func TestVaultSecretManager_NotFound(t *testing.T) {
	_, sm := newFakeVault(t)
	_, err := sm.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestAuthenticateVault_Validation(t *testing.T) {
	client, err := vault.NewClient(vault.DefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  VaultConfig
	}{
		{"token without token", VaultConfig{AuthMethod: "token"}},
		{"approle without ids", VaultConfig{AuthMethod: "approle"}},
		{"kubernetes without role", VaultConfig{AuthMethod: "kubernetes", K8sTokenPath: "/tmp/token"}},
		{"unknown", VaultConfig{AuthMethod: "ldap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.Error(t, authenticateVault(ctx, client, &tt.cfg))
		})
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "xopay_processing", cfg.Kafka.InboundTopic)
	assert.Equal(t, "xopay_processing_status", cfg.Kafka.ResultTopic)
	assert.Equal(t, StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Store.MaxRetries)
	assert.Equal(t, 10, cfg.Processing.PendingMaxAttempts)
	assert.Zero(t, cfg.Processing.IntakeRate)
	assert.Equal(t, 20*time.Second, cfg.Processing.StepTimeout)
	assert.Equal(t, []string{"internal"}, cfg.Paysys.PassthroughIDs)
	assert.Equal(t, 30*time.Second, cfg.Shutdown.Timeout)
	assert.True(t, cfg.Logger.Development())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("PROCESSING_INTAKE_RATE", "250.5")
	t.Setenv("PROCESSING_PENDING_MAX_ATTEMPTS", "4")
	t.Setenv("REDIS_TERMINAL_TTL", "72h")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PAYSYS_PASSTHROUGH_IDS", "internal,test")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250.5, cfg.Processing.IntakeRate)
	assert.Equal(t, 4, cfg.Processing.PendingMaxAttempts)
	assert.Equal(t, 72*time.Hour, cfg.Store.Redis.TerminalTTL)
	assert.Equal(t, []string{"internal", "test"}, cfg.Paysys.PassthroughIDs)
	assert.False(t, cfg.Logger.Development())
}

func TestLoadFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("STORE_MAX_RETRIES", "many")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Store.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Shutdown.Timeout)
}

func TestLoadFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "postgres needs a password",
			env:  map[string]string{},
			want: "DB_PASSWORD",
		},
		{
			name: "unknown store backend",
			env:  map[string]string{"STORE_BACKEND": "cassandra"},
			want: "STORE_BACKEND",
		},
		{
			name: "vault needs an address",
			env:  map[string]string{"STORE_BACKEND": "memory", "SECRETS_BACKEND": "vault"},
			want: "VAULT_ADDR",
		},
		{
			name: "unknown secrets backend",
			env:  map[string]string{"STORE_BACKEND": "memory", "SECRETS_BACKEND": "gcp"},
			want: "SECRETS_BACKEND",
		},
		{
			name: "negative intake rate",
			env:  map[string]string{"STORE_BACKEND": "memory", "PROCESSING_INTAKE_RATE": "-1"},
			want: "PROCESSING_INTAKE_RATE",
		},
		{
			name: "store timeout longer than step timeout",
			env: map[string]string{
				"STORE_BACKEND":            "memory",
				"PROCESSING_STORE_TIMEOUT": "30s",
				"PROCESSING_STEP_TIMEOUT":  "10s",
			},
			want: "PROCESSING_STORE_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_PASSWORD", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host: "db", Port: 5432, User: "proc", Password: "pw", Database: "processing", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db port=5432 user=proc password=pw dbname=processing sslmode=require",
		db.ConnectionString())
}

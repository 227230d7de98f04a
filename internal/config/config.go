package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

// Secret manager backends
const (
	SecretsBackendLocal = "local"
	SecretsBackendAWS   = "aws"
	SecretsBackendVault = "vault"
)

// Config holds all application configuration
type Config struct {
	Logger        LoggerConfig
	Kafka         KafkaConfig
	Store         StoreConfig
	Processing    ProcessingConfig
	Paysys        PaysysConfig
	Secrets       SecretsConfig
	Observability ObservabilityConfig
	Shutdown      ShutdownConfig
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Environment string // production enables the JSON encoder
}

// Development reports whether the human readable encoder should be used
func (c LoggerConfig) Development() bool {
	return c.Environment != "production"
}

// KafkaConfig holds broker and topic configuration
type KafkaConfig struct {
	Brokers      []string
	InboundTopic string
	GroupID      string
	ResultTopic  string
	NotifyTopic  string
	WriteTimeout time.Duration
}

// StoreConfig selects and tunes the transaction store
type StoreConfig struct {
	Backend    string // postgres, redis, memory
	Database   DatabaseConfig
	Redis      RedisConfig
	MaxRetries int // retries of a store call on connectivity errors
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	TerminalTTL time.Duration // expiry of SUCCESS/FAIL records; zero keeps them
}

// ProcessingConfig tunes the pipeline
type ProcessingConfig struct {
	ChannelCapacity    int
	PendingMaxAttempts int
	IntakeRate         float64 // messages per second, zero is unlimited
	IntakeBurst        int
	StepTimeout        time.Duration
	StoreTimeout       time.Duration
	PublishTimeout     time.Duration
}

// PaysysConfig lists the payment interfaces to register
type PaysysConfig struct {
	PassthroughIDs  []string
	StoreAPIID      string
	StoreAPIBaseURL string
	StoreAPITimeout time.Duration
	StoreAPIRetries int
	DecryptKeyPath  string // secret path of the RSA key; empty disables decryption
}

// SecretsConfig selects the secret manager
type SecretsConfig struct {
	Backend    string // local, aws, vault
	LocalPath  string
	AWSRegion  string
	AWSProfile string
	VaultAddr  string
	VaultToken string
}

// ObservabilityConfig holds the metrics and health ports
type ObservabilityConfig struct {
	MetricsPort    int
	GRPCHealthPort int
}

// ShutdownConfig bounds graceful shutdown
type ShutdownConfig struct {
	Timeout time.Duration // drain of in-flight transactions
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			InboundTopic: getEnv("KAFKA_INBOUND_TOPIC", "xopay_processing"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "processing"),
			ResultTopic:  getEnv("KAFKA_RESULT_TOPIC", "xopay_processing_status"),
			NotifyTopic:  getEnv("KAFKA_NOTIFY_TOPIC", "xopay_processing_notify"),
			WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnvAsInt("DB_PORT", 5432),
				User:     getEnv("DB_USER", "postgres"),
				Password: getEnv("DB_PASSWORD", ""),
				Database: getEnv("DB_NAME", "processing"),
				SSLMode:  getEnv("DB_SSL_MODE", "disable"),
				MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
				MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			},
			Redis: RedisConfig{
				Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
				Password:    getEnv("REDIS_PASSWORD", ""),
				DB:          getEnvAsInt("REDIS_DB", 0),
				PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 100),
				TerminalTTL: getEnvAsDuration("REDIS_TERMINAL_TTL", 30*24*time.Hour),
			},
			MaxRetries: getEnvAsInt("STORE_MAX_RETRIES", 3),
		},
		Processing: ProcessingConfig{
			ChannelCapacity:    getEnvAsInt("PROCESSING_CHANNEL_CAPACITY", 100),
			PendingMaxAttempts: getEnvAsInt("PROCESSING_PENDING_MAX_ATTEMPTS", 10),
			IntakeRate:         getEnvAsFloat("PROCESSING_INTAKE_RATE", 0),
			IntakeBurst:        getEnvAsInt("PROCESSING_INTAKE_BURST", 1),
			StepTimeout:        getEnvAsDuration("PROCESSING_STEP_TIMEOUT", 20*time.Second),
			StoreTimeout:       getEnvAsDuration("PROCESSING_STORE_TIMEOUT", 5*time.Second),
			PublishTimeout:     getEnvAsDuration("PROCESSING_PUBLISH_TIMEOUT", 10*time.Second),
		},
		Paysys: PaysysConfig{
			PassthroughIDs:  getEnvAsList("PAYSYS_PASSTHROUGH_IDS", []string{"internal"}),
			StoreAPIID:      getEnv("PAYSYS_STORE_API_ID", "store"),
			StoreAPIBaseURL: getEnv("PAYSYS_STORE_API_URL", ""),
			StoreAPITimeout: getEnvAsDuration("PAYSYS_STORE_API_TIMEOUT", 15*time.Second),
			StoreAPIRetries: getEnvAsInt("PAYSYS_STORE_API_RETRIES", 2),
			DecryptKeyPath:  getEnv("PAYSYS_DECRYPT_KEY_PATH", ""),
		},
		Secrets: SecretsConfig{
			Backend:    strings.ToLower(getEnv("SECRETS_BACKEND", SecretsBackendLocal)),
			LocalPath:  getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			AWSRegion:  getEnv("AWS_REGION", "us-east-1"),
			AWSProfile: getEnv("AWS_PROFILE", ""),
			VaultAddr:  getEnv("VAULT_ADDR", ""),
			VaultToken: getEnv("VAULT_TOKEN", ""),
		},
		Observability: ObservabilityConfig{
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
			GRPCHealthPort: getEnvAsInt("GRPC_HEALTH_PORT", 50051),
		},
		Shutdown: ShutdownConfig{
			Timeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and enumerations
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}

	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.Store.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case StoreBackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Secrets.Backend {
	case SecretsBackendLocal, SecretsBackendAWS:
	case SecretsBackendVault:
		if c.Secrets.VaultAddr == "" {
			return fmt.Errorf("VAULT_ADDR is required")
		}
	default:
		return fmt.Errorf("unknown SECRETS_BACKEND %q", c.Secrets.Backend)
	}

	if c.Processing.PendingMaxAttempts < 0 {
		return fmt.Errorf("PROCESSING_PENDING_MAX_ATTEMPTS must not be negative")
	}
	if c.Processing.IntakeRate < 0 {
		return fmt.Errorf("PROCESSING_INTAKE_RATE must not be negative")
	}
	if c.Processing.StoreTimeout >= c.Processing.StepTimeout {
		return fmt.Errorf("PROCESSING_STORE_TIMEOUT (%s) must be shorter than PROCESSING_STEP_TIMEOUT (%s)",
			c.Processing.StoreTimeout, c.Processing.StepTimeout)
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

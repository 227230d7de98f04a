package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevin07696/processing-service/internal/adapters/database"
	"github.com/kevin07696/processing-service/internal/adapters/memory"
	"github.com/kevin07696/processing-service/internal/adapters/paysys"
	"github.com/kevin07696/processing-service/internal/adapters/postgres"
	redisstore "github.com/kevin07696/processing-service/internal/adapters/redis"
	"github.com/kevin07696/processing-service/internal/adapters/secrets"
	"github.com/kevin07696/processing-service/internal/adapters/store"
	"github.com/kevin07696/processing-service/internal/config"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	"github.com/kevin07696/processing-service/internal/services/processing"
	pkghttp "github.com/kevin07696/processing-service/pkg/http"
	"github.com/kevin07696/processing-service/pkg/observability"
	"github.com/kevin07696/processing-service/pkg/resilience"
)

// initLogger initializes the logger
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewDevelopmentConfig()
	if !cfg.Development() {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// storeHandle is the configured transaction store with its lifecycle hooks
type storeHandle struct {
	store  ports.TransactionStore
	health observability.CheckFunc
	close  func()
}

// openStore connects the configured backend and wraps it with retries on
// connectivity errors
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storeHandle, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		dbCfg := database.DefaultPostgreSQLConfig(cfg.Store.Database.ConnectionString())
		dbCfg.MaxConns = cfg.Store.Database.MaxConns
		dbCfg.MinConns = cfg.Store.Database.MinConns

		db, err := database.NewPostgreSQLAdapter(ctx, dbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		monitorCtx, stopMonitor := context.WithCancel(context.WithoutCancel(ctx))
		db.StartPoolMonitoring(monitorCtx, poolMonitorInterval)
		return &storeHandle{
			store: store.NewRetrying(postgres.NewTransactionStore(db, logger),
				postgres.IsTransient, cfg.Store.MaxRetries, logger),
			health: db.HealthCheck,
			close: func() {
				stopMonitor()
				db.Close()
			},
		}, nil

	case config.StoreBackendRedis:
		redisCfg := redisstore.DefaultConfig(cfg.Store.Redis.Addr)
		redisCfg.Password = cfg.Store.Redis.Password
		redisCfg.DB = cfg.Store.Redis.DB
		redisCfg.PoolSize = cfg.Store.Redis.PoolSize

		client, err := redisstore.NewClient(ctx, redisCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &storeHandle{
			store: store.NewRetrying(redisstore.NewTransactionStore(client, cfg.Store.Redis.TerminalTTL, logger),
				redisstore.IsTransient, cfg.Store.MaxRetries, logger),
			health: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close:  func() { _ = client.Close() },
		}, nil

	case config.StoreBackendMemory:
		logger.Warn("Using in-memory transaction store; state is lost on restart")
		return &storeHandle{
			store:  memory.NewTransactionStore(),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// openSecretManager builds the configured secret manager
func openSecretManager(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Backend {
	case config.SecretsBackendAWS:
		awsCfg := secrets.DefaultAWSSecretsManagerConfig(cfg.AWSRegion)
		awsCfg.Profile = cfg.AWSProfile
		sm, err := secrets.NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)
		if err != nil {
			return nil, err
		}
		return sm, nil
	case config.SecretsBackendVault:
		vaultCfg := secrets.DefaultVaultConfig(cfg.VaultAddr)
		vaultCfg.Token = cfg.VaultToken
		sm, err := secrets.NewVaultAdapter(ctx, vaultCfg, logger)
		if err != nil {
			return nil, err
		}
		return sm, nil
	default:
		return secrets.NewLocalSecretManager(cfg.LocalPath, logger), nil
	}
}

// loadInterfaces builds every configured payment interface. The store API
// interface is only registered when its URL is set. With a decryption key
// path configured every interface is wrapped so requisites are decrypted
// for the duration of a step.
func loadInterfaces(ctx context.Context, cfg config.PaysysConfig, sm ports.SecretManager, logger *zap.Logger) ([]paysys.Interface, error) {
	var pis []paysys.Interface
	for _, id := range cfg.PassthroughIDs {
		pis = append(pis, paysys.NewPassthrough(id))
	}

	if cfg.StoreAPIBaseURL != "" {
		apiCfg := paysys.DefaultStoreAPIConfig(cfg.StoreAPIBaseURL)
		apiCfg.RequestTimeout = cfg.StoreAPITimeout
		apiCfg.MaxRetries = cfg.StoreAPIRetries
		client := pkghttp.NewHTTPClient(pkghttp.StoreAPIClientConfig(), 0)
		pis = append(pis, paysys.NewStoreAPI(cfg.StoreAPIID, apiCfg, client, logger))
	}

	if cfg.DecryptKeyPath == "" {
		return pis, nil
	}

	dec, err := paysys.LoadDecrypter(ctx, sm, cfg.DecryptKeyPath, logger)
	if err != nil {
		return nil, err
	}
	for i, pi := range pis {
		pis[i] = dec.Wrap(pi)
	}
	return pis, nil
}

// processingConfig maps configuration onto the orchestrator
func processingConfig(cfg *config.Config) processing.Config {
	return processing.Config{
		Timeouts: &resilience.TimeoutConfig{
			Shutdown: cfg.Shutdown.Timeout,
			StepCall: cfg.Processing.StepTimeout,
			Publish:  cfg.Processing.PublishTimeout,
			Store:    cfg.Processing.StoreTimeout,
		},
		PendingBackoff:     resilience.PendingRequeueBackoff(),
		ReconnectBackoff:   resilience.QueueReconnectBackoff(),
		ChannelCapacity:    cfg.Processing.ChannelCapacity,
		PendingMaxAttempts: cfg.Processing.PendingMaxAttempts,
		IntakeRate:         cfg.Processing.IntakeRate,
		IntakeBurst:        cfg.Processing.IntakeBurst,
	}
}

const (
	// connectTimeout bounds startup connections
	connectTimeout      = 10 * time.Second
	poolMonitorInterval = time.Minute
)

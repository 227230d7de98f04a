package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/adapters/kafka"
	"github.com/kevin07696/processing-service/internal/adapters/paysys"
	"github.com/kevin07696/processing-service/internal/config"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	"github.com/kevin07696/processing-service/internal/services/processing"
	"github.com/kevin07696/processing-service/pkg/observability"
	"github.com/kevin07696/processing-service/pkg/shutdown"
)

const healthInterval = 5 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume inbound transactions and run them through processing",
		Long: `Start the processing pipeline.

Transactions are read from the inbound topic, taken through the processing
state machine and their outcome published to the result topic. SIGHUP
reloads the payment interfaces; SIGINT or SIGTERM drains in-flight
transactions and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := initLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting processing service",
		zap.String("version", Version),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
	)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	sm, err := openSecretManager(connectCtx, cfg.Secrets, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}

	st, err := openStore(connectCtx, cfg, logger)
	if err != nil {
		return err
	}

	pis, err := loadInterfaces(connectCtx, cfg.Paysys, sm, logger)
	if err != nil {
		st.close()
		return fmt.Errorf("failed to load payment interfaces: %w", err)
	}
	registry := paysys.NewRegistry(logger, pis...)

	kafkaCfg := kafka.DefaultConfig(cfg.Kafka.Brokers)
	kafkaCfg.InboundTopic = cfg.Kafka.InboundTopic
	kafkaCfg.GroupID = cfg.Kafka.GroupID
	kafkaCfg.ResultTopic = cfg.Kafka.ResultTopic
	kafkaCfg.NotifyTopic = cfg.Kafka.NotifyTopic
	kafkaCfg.WriteTimeout = cfg.Kafka.WriteTimeout

	consumer := kafka.NewConsumer(kafkaCfg, logger)
	publisher := kafka.NewPublisher(kafkaCfg, logger)

	orch, err := processing.NewOrchestrator(processingConfig(cfg), processing.DefaultTable(), processing.Dependencies{
		Store:      st.store,
		Dispatcher: registry,
		Consumer:   consumer,
		Publisher:  publisher,
		Notifier:   publisher,
	}, logger)
	if err != nil {
		st.close()
		return err
	}

	// Shutdown runs in reverse registration order: the orchestrator drains
	// first while the publisher and store are still open.
	shutdownMgr := shutdown.NewManager(logger, cfg.Shutdown.Timeout+10*time.Second)
	shutdownMgr.RegisterNoErr("store", st.close)
	shutdownMgr.RegisterCloser("publisher", publisher)

	checker := observability.NewHealthChecker(2 * time.Second)
	checker.Register("store", st.health)
	checker.Register("orchestrator", orch.HealthCheck)

	metricsServer := observability.NewMetricsServer(cfg.Observability.MetricsPort, checker, orch.Running, logger)
	metricsServer.Start()
	shutdownMgr.Register("metrics_server", metricsServer.Shutdown)

	grpcHealth := observability.NewGRPCHealth("processing", logger)
	if err := grpcHealth.ListenAndServe(cfg.Observability.GRPCHealthPort); err != nil {
		shutdownMgr.Shutdown()
		return err
	}
	shutdownMgr.Register("grpc_health", grpcHealth.Stop)

	healthWorker := shutdown.NewPeriodicWorker("health", healthInterval, logger)
	healthWorker.Start(func(ctx context.Context) {
		grpcHealth.SetServing(checker.Check(ctx).Healthy())
	})
	shutdownMgr.Register("health_worker", healthWorker.Shutdown)

	stopReload := watchReload(cfg.Paysys, sm, registry, logger)
	shutdownMgr.RegisterNoErr("paysys_reload", stopReload)

	if err := orch.Start(ctx); err != nil {
		shutdownMgr.Shutdown()
		return err
	}
	shutdownMgr.Register("orchestrator", orch.Shutdown)

	errs := shutdownMgr.WaitForShutdown(ctx)
	if len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d errors", len(errs))
	}
	return nil
}

// watchReload rebuilds the payment interfaces on SIGHUP and swaps them into
// registry. A failed rebuild keeps the current set.
func watchReload(cfg config.PaysysConfig, sm ports.SecretManager, registry *paysys.Registry, logger *zap.Logger) func() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-hup:
				ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
				pis, err := loadInterfaces(ctx, cfg, sm, logger)
				cancel()
				if err != nil {
					logger.Error("Payment interface reload failed, keeping current set", zap.Error(err))
					continue
				}
				registry.Replace(pis...)
			}
		}
	}()

	return func() {
		signal.Stop(hup)
		close(done)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/adapters/kafka"
	"github.com/kevin07696/processing-service/internal/config"
	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
)

type replayOptions struct {
	stale     bool
	olderThan time.Duration
	limit     int
	dryRun    bool
}

func replayCmd() *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay [id...]",
		Short: "Republish stored transactions to the inbound topic",
		Long: `Republish stored transaction snapshots to the inbound topic so the
pipeline picks them up again. Terminal transactions republish their stored
result; others resume at their persisted status.

Examples:
  processing replay 6f1c2e0a-... 9b7d4c11-...
  processing replay --stale --older-than 15m --limit 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.stale == (len(args) > 0) {
				return fmt.Errorf("pass transaction ids or --stale, not both")
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return runReplay(cmd.Context(), cfg, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.stale, "stale", false, "replay non-terminal transactions not updated recently")
	cmd.Flags().DurationVar(&opts.olderThan, "older-than", 15*time.Minute, "with --stale, minimum time since the last update")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 100, "with --stale, maximum transactions to replay")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "list what would be replayed without publishing")

	return cmd
}

func runReplay(ctx context.Context, cfg *config.Config, ids []string, opts replayOptions) error {
	logger := initLogger(cfg.Logger).With(zap.String("replay_id", uuid.NewString()))
	defer func() { _ = logger.Sync() }()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	txs, err := replayTargets(ctx, st.store, ids, opts, logger)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		logger.Info("Nothing to replay")
		return nil
	}

	var producer ports.MessageProducer
	if !opts.dryRun {
		kafkaCfg := kafka.DefaultConfig(cfg.Kafka.Brokers)
		kafkaCfg.InboundTopic = cfg.Kafka.InboundTopic
		kafkaCfg.WriteTimeout = cfg.Kafka.WriteTimeout
		p := kafka.NewProducer(kafkaCfg)
		defer func() { _ = p.Close() }()
		producer = p
	}

	published, err := replay(ctx, producer, txs, logger)
	logger.Info("Replay finished",
		zap.Int("selected", len(txs)),
		zap.Int("published", published),
		zap.Bool("dry_run", opts.dryRun),
	)
	return err
}

// replayTargets loads the named transactions, or lists stale ones
func replayTargets(ctx context.Context, store ports.TransactionStore, ids []string, opts replayOptions, logger *zap.Logger) ([]*domain.Transaction, error) {
	if opts.stale {
		lister, ok := store.(ports.StaleTransactionLister)
		if !ok {
			return nil, fmt.Errorf("the configured store cannot list stale transactions")
		}
		return lister.ListStale(ctx, time.Now().Add(-opts.olderThan), opts.limit)
	}

	txs := make([]*domain.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, found, err := store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", id, err)
		}
		if !found {
			logger.Warn("Transaction not found, skipping", zap.String("transaction_id", id))
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// replay publishes a snapshot of each transaction keyed by its id. A nil
// producer only logs.
func replay(ctx context.Context, producer ports.MessageProducer, txs []*domain.Transaction, logger *zap.Logger) (int, error) {
	published := 0
	for _, tx := range txs {
		txLogger := logger.With(
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(tx.Status)),
		)
		if producer == nil {
			txLogger.Info("Would replay transaction")
			continue
		}

		body, err := json.Marshal(tx)
		if err != nil {
			return published, fmt.Errorf("failed to encode %s: %w", tx.ID, err)
		}
		if err := producer.Produce(ctx, tx.ID, body); err != nil {
			return published, fmt.Errorf("failed to publish %s: %w", tx.ID, err)
		}
		published++
		txLogger.Info("Transaction replayed")
	}
	return published, nil
}

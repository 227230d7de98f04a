package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes results and status notifications
type Publisher struct {
	results messageWriter
	notify  messageWriter
	logger  *zap.Logger
}

// NewPublisher creates writers for cfg.ResultTopic and cfg.NotifyTopic
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		results: newWriter(cfg, cfg.ResultTopic),
		notify:  newWriter(cfg, cfg.NotifyTopic),
		logger:  logger,
	}
}

var (
	_ ports.ResultPublisher = (*Publisher)(nil)
	_ ports.StatusNotifier  = (*Publisher)(nil)
)

// PublishResult implements ports.ResultPublisher
func (p *Publisher) PublishResult(ctx context.Context, result domain.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := p.results.WriteMessages(ctx, kafka.Message{Key: []byte(result.ID), Value: body}); err != nil {
		return domain.WrapError(domain.ErrorCodePublishError, "failed to publish result", err).
			WithDetail("transaction_id", result.ID)
	}

	p.logger.Debug("Result published",
		zap.String("transaction_id", result.ID),
		zap.String("status", string(result.Status)),
	)
	return nil
}

// Notify implements ports.StatusNotifier
func (p *Publisher) Notify(ctx context.Context, n domain.StatusNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.notify.WriteMessages(ctx, kafka.Message{Key: []byte(n.UUID), Value: body}); err != nil {
		return domain.WrapError(domain.ErrorCodePublishError, "failed to publish notification", err).
			WithDetail("transaction_id", n.UUID)
	}
	return nil
}

// Close flushes and closes both writers
func (p *Publisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	resultsErr := p.results.Close()
	notifyErr := p.notify.Close()
	if resultsErr != nil {
		return resultsErr
	}
	return notifyErr
}

// Producer writes transaction snapshots to the inbound topic
type Producer struct {
	writer messageWriter
}

// NewProducer creates a writer for cfg.InboundTopic
func NewProducer(cfg Config) *Producer {
	return &Producer{writer: newWriter(cfg, cfg.InboundTopic)}
}

var _ ports.MessageProducer = (*Producer)(nil)

// Produce implements ports.MessageProducer
func (p *Producer) Produce(ctx context.Context, key string, body []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		return fmt.Errorf("produce %s: %w", key, err)
	}
	return nil
}

// Close closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Package kafka carries the processing queues over Kafka: the inbound
// transaction topic, the result topic and the notification topic.
package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// Config configures readers and writers
type Config struct {
	Brokers      []string
	InboundTopic string
	GroupID      string
	ResultTopic  string
	NotifyTopic  string

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	WriteTimeout    time.Duration
	MaxAttempts     int
	WriteBackoffMin time.Duration
	WriteBackoffMax time.Duration
}

// DefaultConfig returns defaults for brokers
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:         brokers,
		InboundTopic:    "xopay_processing",
		GroupID:         "processing",
		ResultTopic:     "xopay_processing_status",
		NotifyTopic:     "xopay_processing_notify",
		MinBytes:        1,
		MaxBytes:        10e6,
		MaxWait:         500 * time.Millisecond,
		WriteTimeout:    10 * time.Second,
		MaxAttempts:     5,
		WriteBackoffMin: 100 * time.Millisecond,
		WriteBackoffMax: 2 * time.Second,
	}
}

// newWriter builds a synchronous, fully acknowledged writer keyed by
// transaction id so messages for one transaction stay ordered
func newWriter(cfg Config, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:            kafka.TCP(cfg.Brokers...),
		Topic:           topic,
		Balancer:        &kafka.Hash{},
		RequiredAcks:    kafka.RequireAll,
		MaxAttempts:     cfg.MaxAttempts,
		WriteBackoffMin: cfg.WriteBackoffMin,
		WriteBackoffMax: cfg.WriteBackoffMax,
		WriteTimeout:    cfg.WriteTimeout,
		BatchTimeout:    10 * time.Millisecond,
	}
}

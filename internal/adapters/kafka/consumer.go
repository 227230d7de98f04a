package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain/ports"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the inbound topic in a consumer group. Messages finish
// out of order, so an ack only commits up to the lowest offset of its
// partition that is still unacked.
type Consumer struct {
	reader  messageReader
	logger  *zap.Logger
	offsets offsetWatermark
}

// NewConsumer creates a consumer group reader on cfg.InboundTopic
func NewConsumer(cfg Config, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.InboundTopic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})

	logger.Info("Kafka consumer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.InboundTopic),
		zap.String("group_id", cfg.GroupID),
	)
	return &Consumer{reader: reader, logger: logger}
}

var _ ports.MessageConsumer = (*Consumer)(nil)

// Fetch implements ports.MessageConsumer
func (c *Consumer) Fetch(ctx context.Context) (ports.Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch inbound message: %w", err)
	}
	c.offsets.track(msg)
	return &delivery{consumer: c, msg: msg}, nil
}

// Close implements ports.MessageConsumer
func (c *Consumer) Close() error {
	c.logger.Info("Closing Kafka consumer")
	return c.reader.Close()
}

// ack marks msg done and commits the contiguous acked prefix of its
// partition, if it grew
func (c *Consumer) ack(ctx context.Context, msg kafka.Message) error {
	c.offsets.mu.Lock()
	defer c.offsets.mu.Unlock()

	upTo, ok := c.offsets.done(msg)
	if !ok {
		c.logger.Debug("Offset acked behind an earlier unacked message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
		return nil
	}
	if err := c.reader.CommitMessages(ctx, upTo); err != nil {
		return fmt.Errorf("commit offset %d on partition %d: %w", upTo.Offset, upTo.Partition, err)
	}
	return nil
}

type delivery struct {
	consumer *Consumer
	msg      kafka.Message
}

func (d *delivery) Body() []byte {
	return d.msg.Value
}

// Ack marks the message processed. Its offset is committed once every
// earlier fetched offset of the partition is acked as well.
func (d *delivery) Ack(ctx context.Context) error {
	return d.consumer.ack(ctx, d.msg)
}

// offsetWatermark keeps the fetched, not yet committed offsets of each
// partition in fetch order
type offsetWatermark struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	// pending is ascending by offset
	pending []pendingOffset
}

type pendingOffset struct {
	msg   kafka.Message
	acked bool
}

func (w *offsetWatermark) track(msg kafka.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.partitions == nil {
		w.partitions = make(map[int]*partitionOffsets)
	}
	p, ok := w.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{}
		w.partitions[msg.Partition] = p
	}

	// A rebalance rewinds the partition to its committed offset; forget
	// what was fetched past it
	n := len(p.pending)
	for n > 0 && p.pending[n-1].msg.Offset >= msg.Offset {
		n--
	}
	p.pending = append(p.pending[:n], pendingOffset{msg: msg})
}

// done marks msg acked and pops the acked prefix of its partition. It
// returns the last popped message, the one to commit. Callers hold mu.
func (w *offsetWatermark) done(msg kafka.Message) (kafka.Message, bool) {
	p, ok := w.partitions[msg.Partition]
	if !ok {
		return kafka.Message{}, false
	}
	for i := range p.pending {
		if p.pending[i].msg.Offset == msg.Offset {
			p.pending[i].acked = true
			break
		}
	}

	var (
		last   kafka.Message
		popped int
	)
	for popped < len(p.pending) && p.pending[popped].acked {
		last = p.pending[popped].msg
		popped++
	}
	if popped == 0 {
		return kafka.Message{}, false
	}
	p.pending = p.pending[popped:]
	return last, true
}

package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/kevin07696/processing-service/internal/domain/ports"
)

// ErrQueueClosed is returned by Fetch after Close
var ErrQueueClosed = errors.New("queue closed")

type message struct {
	key  string
	body []byte
	seq  uint64
}

// Queue is an in-process message queue with explicit acknowledgement.
// Fetched messages stay pending until acked; Redeliver puts them back.
type Queue struct {
	ch        chan message
	closed    chan struct{}
	pending   map[uint64]message
	fetchErrs []error
	acked     []string
	seq       uint64
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewQueue creates a queue buffering up to capacity messages
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:      make(chan message, capacity),
		closed:  make(chan struct{}),
		pending: make(map[uint64]message),
	}
}

var (
	_ ports.MessageConsumer = (*Queue)(nil)
	_ ports.MessageProducer = (*Queue)(nil)
)

// Produce implements ports.MessageProducer
func (q *Queue) Produce(ctx context.Context, key string, body []byte) error {
	q.mu.Lock()
	q.seq++
	msg := message{key: key, body: append([]byte(nil), body...), seq: q.seq}
	q.mu.Unlock()

	select {
	case q.ch <- msg:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push is Produce with a background context and no key
func (q *Queue) Push(body []byte) error {
	return q.Produce(context.Background(), "", body)
}

// FailFetches makes the next len(errs) Fetch calls return errs in order
func (q *Queue) FailFetches(errs ...error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetchErrs = append(q.fetchErrs, errs...)
}

// Fetch implements ports.MessageConsumer
func (q *Queue) Fetch(ctx context.Context) (ports.Delivery, error) {
	q.mu.Lock()
	if len(q.fetchErrs) > 0 {
		err := q.fetchErrs[0]
		q.fetchErrs = q.fetchErrs[1:]
		q.mu.Unlock()
		return nil, err
	}
	q.mu.Unlock()

	select {
	case msg := <-q.ch:
		q.mu.Lock()
		q.pending[msg.seq] = msg
		q.mu.Unlock()
		return &delivery{queue: q, msg: msg}, nil
	case <-q.closed:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements ports.MessageConsumer
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

// Pending returns the bodies of fetched but unacknowledged messages
func (q *Queue) Pending() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([][]byte, 0, len(q.pending))
	for _, msg := range q.pending {
		out = append(out, msg.body)
	}
	return out
}

// Acked returns the keys of acknowledged messages in ack order
func (q *Queue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// Redeliver requeues every unacknowledged message
func (q *Queue) Redeliver(ctx context.Context) error {
	q.mu.Lock()
	msgs := make([]message, 0, len(q.pending))
	for seq, msg := range q.pending {
		msgs = append(msgs, msg)
		delete(q.pending, seq)
	}
	q.mu.Unlock()

	for _, msg := range msgs {
		if err := q.Produce(ctx, msg.key, msg.body); err != nil {
			return err
		}
	}
	return nil
}

type delivery struct {
	queue *Queue
	msg   message
}

func (d *delivery) Body() []byte {
	return d.msg.body
}

func (d *delivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()

	if _, ok := d.queue.pending[d.msg.seq]; ok {
		delete(d.queue.pending, d.msg.seq)
		d.queue.acked = append(d.queue.acked, d.msg.key)
	}
	return nil
}

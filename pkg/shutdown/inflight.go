package shutdown

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker tracks keyed in-flight work (one entry per transaction id)
// so graceful shutdown can wait for it and the same key is never admitted
// twice at once.
type InFlightTracker struct {
	logger       *zap.Logger
	keys         map[string]struct{}
	drained      chan struct{}
	name         string
	mu           sync.Mutex
	shuttingDown bool
}

// NewInFlightTracker creates a new in-flight work tracker
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{
		logger: logger,
		keys:   make(map[string]struct{}),
		name:   name,
	}
}

// Add registers key as in flight. It returns false when shutdown has begun
// or key is already in flight; the caller must not start the work then.
func (ift *InFlightTracker) Add(key string) bool {
	ift.mu.Lock()
	defer ift.mu.Unlock()

	if ift.shuttingDown {
		return false
	}
	if _, busy := ift.keys[key]; busy {
		return false
	}
	ift.keys[key] = struct{}{}
	return true
}

// Contains reports whether key is currently in flight
func (ift *InFlightTracker) Contains(key string) bool {
	ift.mu.Lock()
	defer ift.mu.Unlock()
	_, ok := ift.keys[key]
	return ok
}

// Done releases key. Releasing an unknown key is a no-op.
func (ift *InFlightTracker) Done(key string) {
	ift.mu.Lock()
	defer ift.mu.Unlock()

	if _, ok := ift.keys[key]; !ok {
		return
	}
	delete(ift.keys, key)
	if ift.shuttingDown && len(ift.keys) == 0 && ift.drained != nil {
		close(ift.drained)
		ift.drained = nil
	}
}

// Len returns the number of keys in flight
func (ift *InFlightTracker) Len() int {
	ift.mu.Lock()
	defer ift.mu.Unlock()
	return len(ift.keys)
}

// Shutdown stops admitting new work and waits for in-flight work to finish.
// Returns ctx.Err() if the context ends first.
func (ift *InFlightTracker) Shutdown(ctx context.Context) error {
	ift.mu.Lock()
	ift.shuttingDown = true
	pending := len(ift.keys)
	if pending == 0 {
		ift.mu.Unlock()
		return nil
	}
	if ift.drained == nil {
		ift.drained = make(chan struct{})
	}
	drained := ift.drained
	ift.mu.Unlock()

	ift.logger.Info("Waiting for in-flight work to complete",
		zap.String("tracker", ift.name),
		zap.Int("in_flight", pending),
	)

	select {
	case <-drained:
		ift.logger.Info("All in-flight work completed",
			zap.String("tracker", ift.name),
		)
		return nil
	case <-ctx.Done():
		ift.logger.Warn("Shutdown timeout - some work may be incomplete",
			zap.String("tracker", ift.name),
			zap.Int("in_flight", ift.Len()),
		)
		return ctx.Err()
	}
}

// IsShuttingDown returns true if shutdown has been initiated
func (ift *InFlightTracker) IsShuttingDown() bool {
	ift.mu.Lock()
	defer ift.mu.Unlock()
	return ift.shuttingDown
}

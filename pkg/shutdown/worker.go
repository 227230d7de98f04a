package shutdown

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicWorker runs a function on an interval until stopped
type PeriodicWorker struct {
	logger   *zap.Logger
	cancel   context.CancelFunc
	name     string
	wg       sync.WaitGroup
	interval time.Duration
	once     sync.Once
}

// NewPeriodicWorker creates a new periodic worker
func NewPeriodicWorker(name string, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return &PeriodicWorker{
		logger:   logger,
		name:     name,
		interval: interval,
	}
}

// Start runs work immediately and then on every tick
func (pw *PeriodicWorker) Start(work func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	pw.cancel = cancel

	pw.wg.Add(1)
	go func() {
		defer pw.wg.Done()

		ticker := time.NewTicker(pw.interval)
		defer ticker.Stop()

		work(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				work(ctx)
			}
		}
	}()

	pw.logger.Debug("Periodic worker started",
		zap.String("worker", pw.name),
		zap.Duration("interval", pw.interval),
	)
}

// Shutdown stops the worker and waits for the current run to return
func (pw *PeriodicWorker) Shutdown(ctx context.Context) error {
	pw.once.Do(func() {
		if pw.cancel != nil {
			pw.cancel()
		}
	})

	done := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		pw.logger.Warn("Periodic worker shutdown timeout",
			zap.String("worker", pw.name),
		)
		return ctx.Err()
	}
}

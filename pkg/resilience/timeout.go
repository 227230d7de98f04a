package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the processing timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	Shutdown drain (30s)
//	  ↓
//	Payment interface step call (20s)
//	  ↓
//	Result publish (10s)
//	  ↓
//	Store call (5s)
//
// A step call must finish well inside the drain window so that in-flight
// transactions reach a terminal outcome during graceful shutdown.
type TimeoutConfig struct {
	Shutdown time.Duration // Drain of in-flight transactions (default: 30s)
	StepCall time.Duration // One payment interface step (default: 20s)
	Publish  time.Duration // Result or notification publish (default: 10s)
	Store    time.Duration // One store call including retries (default: 5s)
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Shutdown: 30 * time.Second,
		StepCall: 20 * time.Second,
		Publish:  10 * time.Second,
		Store:    5 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Shutdown: 5 * time.Second,
		StepCall: 2 * time.Second,
		Publish:  1 * time.Second,
		Store:    500 * time.Millisecond,
	}
}

// StepContext creates a context with timeout for a payment interface call
func (tc *TimeoutConfig) StepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.StepCall)
}

// PublishContext creates a context with timeout for queue publishes
func (tc *TimeoutConfig) PublishContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Publish)
}

// StoreContext creates a context with timeout for store calls
func (tc *TimeoutConfig) StoreContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Store)
}

// ShutdownContext creates a context bounding the graceful drain
func (tc *TimeoutConfig) ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Shutdown)
}

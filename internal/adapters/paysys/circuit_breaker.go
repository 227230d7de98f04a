package paysys

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of a payment interface's upstream breaker.
// The numeric values are exported as the circuit state gauge.
type CircuitState int

const (
	// StateClosed lets every call through
	StateClosed CircuitState = iota
	// StateOpen fails calls without reaching the upstream
	StateOpen
	// StateHalfOpen admits a limited number of trial calls
	StateHalfOpen
)

// String returns the state name used in logs
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen rejects a call while the upstream is considered down
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects a call once the half-open trial slots are taken
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreakerConfig tunes a CircuitBreaker
type CircuitBreakerConfig struct {
	// IsFailure decides whether an error counts against the upstream. A
	// decline is an answer, not an outage. Nil counts every error.
	IsFailure func(error) bool
	// Timeout is how long the breaker stays open before a trial call
	Timeout time.Duration
	// MaxFailures consecutive failures open the breaker
	MaxFailures uint32
	// MaxRequestsHalfOpen bounds trial calls while half-open
	MaxRequestsHalfOpen uint32
}

// DefaultCircuitBreakerConfig opens after five failures for thirty seconds
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// CircuitBreaker stops a payment interface from hammering an upstream that
// keeps failing. Steps rejected by an open breaker surface as retriable
// errors, so the transaction is requeued rather than declined.
type CircuitBreaker struct {
	openedAt      time.Time
	onStateChange func(CircuitState)
	config        CircuitBreakerConfig
	mu            sync.Mutex
	state         CircuitState
	failures      uint32
	trials        uint32
}

// NewCircuitBreaker returns a closed breaker. onStateChange, if set, runs
// with the new state while the breaker's lock is held.
func NewCircuitBreaker(config CircuitBreakerConfig, onStateChange func(CircuitState)) *CircuitBreaker {
	return &CircuitBreaker{
		state:         StateClosed,
		openedAt:      time.Now(),
		config:        config,
		onStateChange: onStateChange,
	}
}

// Call runs fn unless the breaker rejects it, and records the outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.openedAt) <= cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trials++
		return nil

	case StateHalfOpen:
		if cb.trials >= cb.config.MaxRequestsHalfOpen {
			return ErrTooManyRequests
		}
		cb.trials++
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	switch {
	case !failed && cb.state == StateHalfOpen:
		cb.transition(StateClosed)
	case !failed:
		cb.failures = 0
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen)
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	}
}

// transition resets the counters for the new state. Callers hold mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.openedAt = time.Now()
	cb.failures = 0
	cb.trials = 0

	if cb.onStateChange != nil {
		cb.onStateChange(to)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count while closed
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

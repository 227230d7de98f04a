// Package paysys holds the payment interfaces and the registry that
// dispatches processing steps to them.
package paysys

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
)

// StepFunc runs one processing step against a transaction
type StepFunc func(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)

// Interface is a payment interface. It implements any subset of the step
// interfaces below; steps it does not implement leave the transaction as is.
type Interface interface {
	PaysysID() string
}

// SourceAuthorizer authorizes funds at the source
type SourceAuthorizer interface {
	AuthSource(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
}

// DestinationAuthorizer authorizes the destination to receive funds
type DestinationAuthorizer interface {
	AuthDestination(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
}

// SourceCapturer takes the authorized funds from the source
type SourceCapturer interface {
	CaptureSource(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
}

// DestinationCapturer credits the destination
type DestinationCapturer interface {
	CaptureDestination(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
}

// Voider reverses whatever earlier steps did
type Voider interface {
	Void(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
}

func identity(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	return tx, nil
}

// Resolve returns the function pi runs for step. ok is false only for a
// step name outside the known set.
func Resolve(pi Interface, step domain.Step) (fn StepFunc, ok bool) {
	switch step {
	case domain.StepAuthSource:
		if s, impl := pi.(SourceAuthorizer); impl {
			return s.AuthSource, true
		}
	case domain.StepAuthDestination:
		if s, impl := pi.(DestinationAuthorizer); impl {
			return s.AuthDestination, true
		}
	case domain.StepCaptureSource:
		if s, impl := pi.(SourceCapturer); impl {
			return s.CaptureSource, true
		}
	case domain.StepCaptureDestination:
		if s, impl := pi.(DestinationCapturer); impl {
			return s.CaptureDestination, true
		}
	case domain.StepVoid:
		if s, impl := pi.(Voider); impl {
			return s.Void, true
		}
	default:
		return nil, false
	}
	return identity, true
}

// Registry maps paysys ids to payment interfaces. Reads are lock-free; each
// write publishes a new map so a concurrent Process call sees either the
// old set or the new one, never a mix.
type Registry struct {
	logger     *zap.Logger
	interfaces atomic.Pointer[map[string]Interface]
	writeMu    sync.Mutex
}

// NewRegistry creates a registry holding pis
func NewRegistry(logger *zap.Logger, pis ...Interface) *Registry {
	r := &Registry{logger: logger}
	r.Replace(pis...)
	return r
}

// Register adds or replaces a single payment interface
func (r *Registry) Register(pi Interface) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snapshot()
	next := make(map[string]Interface, len(current)+1)
	for id, existing := range current {
		next[id] = existing
	}
	next[pi.PaysysID()] = pi
	r.interfaces.Store(&next)

	r.logger.Info("Payment interface registered",
		zap.String("paysys_id", pi.PaysysID()),
	)
}

// Replace swaps the whole set of payment interfaces at once
func (r *Registry) Replace(pis ...Interface) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := make(map[string]Interface, len(pis))
	for _, pi := range pis {
		next[pi.PaysysID()] = pi
	}
	r.interfaces.Store(&next)

	r.logger.Info("Payment interfaces loaded",
		zap.Strings("paysys_ids", sortedIDs(next)),
	)
}

// Lookup returns the payment interface registered for id
func (r *Registry) Lookup(id string) (Interface, bool) {
	pi, ok := r.snapshot()[id]
	return pi, ok
}

// IDs returns the registered paysys ids in sorted order
func (r *Registry) IDs() []string {
	return sortedIDs(r.snapshot())
}

func (r *Registry) snapshot() map[string]Interface {
	if m := r.interfaces.Load(); m != nil {
		return *m
	}
	return nil
}

// Process runs step of the payment interface registered for paysysID. The
// interface works on a copy of tx; the returned transaction replaces it.
func (r *Registry) Process(ctx context.Context, paysysID string, step domain.Step, tx *domain.Transaction) (*domain.Transaction, error) {
	pi, ok := r.Lookup(paysysID)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeInterfaceNotFound, "payment interface not found").
			WithDetail("paysys_id", paysysID)
	}

	fn, ok := Resolve(pi, step)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeStepNotFound, "processing step not found").
			WithDetail("step", string(step))
	}

	out, err := fn(ctx, tx.Clone())
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeEmptyResult, "payment interface returned no transaction").
			WithDetail("paysys_id", paysysID).
			WithDetail("step", string(step))
	}
	if field := changedImmutableField(tx, out); field != "" {
		return nil, domain.NewDomainError(domain.ErrorCodeImmutableFieldChanged, "payment interface changed "+field).
			WithDetail("paysys_id", paysysID).
			WithDetail("step", string(step))
	}
	return out, nil
}

func changedImmutableField(before, after *domain.Transaction) string {
	switch {
	case before.ID != after.ID:
		return "id"
	case before.PaysysID != after.PaysysID:
		return "paysys_id"
	case !before.Amount.Equal(after.Amount):
		return "amount"
	case before.Currency != after.Currency:
		return "currency"
	}
	return ""
}

func sortedIDs(m map[string]Interface) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Package processing runs transactions through the processing state
// machine: one stage per status, connected by channels, driven by the
// inbound queue.
package processing

import (
	"fmt"

	"github.com/kevin07696/processing-service/internal/domain"
)

// Kind is the behaviour of the stage that owns a status
type Kind int

const (
	// KindAccepting admits inbound messages; only the entry status has it
	KindAccepting Kind = iota
	// KindQueue runs a payment interface step
	KindQueue
	// KindTerminal persists the outcome and publishes the result
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindAccepting:
		return "accepting"
	case KindQueue:
		return "queue"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Transition is one row of the table
type Transition struct {
	Status    domain.Status
	OnSuccess domain.Status
	OnFailure domain.Status
	Kind      Kind
}

// Table is the processing state machine. Rows are kept in declaration
// order so stages start deterministically.
type Table []Transition

// DefaultTable returns the payment processing graph. Any failure after
// ACCEPTED goes through VOID so earlier steps get reversed.
func DefaultTable() Table {
	return Table{
		{Status: domain.StatusAccepted, OnSuccess: domain.StatusAuthSource, OnFailure: domain.StatusFail, Kind: KindAccepting},
		{Status: domain.StatusAuthSource, OnSuccess: domain.StatusAuthDestination, OnFailure: domain.StatusVoid, Kind: KindQueue},
		{Status: domain.StatusAuthDestination, OnSuccess: domain.StatusCaptureSource, OnFailure: domain.StatusVoid, Kind: KindQueue},
		{Status: domain.StatusCaptureSource, OnSuccess: domain.StatusCaptureDestination, OnFailure: domain.StatusVoid, Kind: KindQueue},
		{Status: domain.StatusCaptureDestination, OnSuccess: domain.StatusSuccess, OnFailure: domain.StatusVoid, Kind: KindQueue},
		{Status: domain.StatusVoid, OnSuccess: domain.StatusFail, OnFailure: domain.StatusFail, Kind: KindQueue},
		{Status: domain.StatusSuccess, Kind: KindTerminal},
		{Status: domain.StatusFail, Kind: KindTerminal},
	}
}

// Lookup returns the row for status
func (t Table) Lookup(status domain.Status) (Transition, bool) {
	for _, tr := range t {
		if tr.Status == status {
			return tr, true
		}
	}
	return Transition{}, false
}

// Entry returns the status of the accepting row
func (t Table) Entry() domain.Status {
	for _, tr := range t {
		if tr.Kind == KindAccepting {
			return tr.Status
		}
	}
	return ""
}

// Validate checks the table is a usable graph: one accepting row, no
// duplicate rows, every edge lands on a row, terminal rows have no edges,
// queue rows name a payment interface step, there are no cycles and every
// row reaches a terminal.
func (t Table) Validate() error {
	seen := make(map[domain.Status]bool, len(t))
	accepting := 0
	for _, tr := range t {
		if seen[tr.Status] {
			return fmt.Errorf("status %s listed twice", tr.Status)
		}
		seen[tr.Status] = true
		if tr.Kind == KindAccepting {
			accepting++
		}
	}
	if accepting != 1 {
		return fmt.Errorf("expected exactly one accepting status, found %d", accepting)
	}

	for _, tr := range t {
		switch tr.Kind {
		case KindTerminal:
			if tr.OnSuccess != "" || tr.OnFailure != "" {
				return fmt.Errorf("terminal status %s has outgoing edges", tr.Status)
			}
			continue
		case KindQueue:
			if _, ok := domain.StepFor(tr.Status); !ok {
				return fmt.Errorf("status %s has no processing step", tr.Status)
			}
		case KindAccepting:
		default:
			return fmt.Errorf("status %s has unknown kind %d", tr.Status, tr.Kind)
		}
		for _, target := range []domain.Status{tr.OnSuccess, tr.OnFailure} {
			if !seen[target] {
				return fmt.Errorf("status %s points to unknown status %q", tr.Status, target)
			}
		}
	}

	// Depth-first search; a gray node reached again is a cycle
	const (
		white = iota
		gray
		black
	)
	color := make(map[domain.Status]int, len(t))
	var visit func(domain.Status) error
	visit = func(s domain.Status) error {
		switch color[s] {
		case gray:
			return fmt.Errorf("cycle through status %s", s)
		case black:
			return nil
		}
		color[s] = gray
		tr, _ := t.Lookup(s)
		if tr.Kind != KindTerminal {
			if err := visit(tr.OnSuccess); err != nil {
				return err
			}
			if err := visit(tr.OnFailure); err != nil {
				return err
			}
		}
		color[s] = black
		return nil
	}
	for _, tr := range t {
		if err := visit(tr.Status); err != nil {
			return err
		}
	}
	// Acyclic with every edge resolved, so every walk ends on a terminal row.
	return nil
}

// ValidPath reports whether path, a sequence of persisted statuses, is a
// prefix of a walk from the entry status along table edges.
func (t Table) ValidPath(path []domain.Status) bool {
	if len(path) == 0 {
		return true
	}
	if path[0] != t.Entry() {
		return false
	}
	for i := 1; i < len(path); i++ {
		tr, ok := t.Lookup(path[i-1])
		if !ok || tr.Kind == KindTerminal {
			return false
		}
		if path[i] != tr.OnSuccess && path[i] != tr.OnFailure {
			return false
		}
	}
	_, ok := t.Lookup(path[len(path)-1])
	return ok
}

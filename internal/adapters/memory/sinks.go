package memory

import (
	"context"
	"sync"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
)

// ResultSink records published results
type ResultSink struct {
	// Fail, when set, is consulted before recording. A non-nil return is
	// the publish error and the result is not recorded.
	Fail    func(domain.Result) error
	results []domain.Result
	mu      sync.Mutex
}

// NewResultSink creates an empty result sink
func NewResultSink() *ResultSink {
	return &ResultSink{}
}

var _ ports.ResultPublisher = (*ResultSink)(nil)

// PublishResult implements ports.ResultPublisher
func (s *ResultSink) PublishResult(_ context.Context, result domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		if err := s.Fail(result); err != nil {
			return err
		}
	}
	s.results = append(s.results, result)
	return nil
}

// Results returns every recorded result in publish order
func (s *ResultSink) Results() []domain.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Result(nil), s.results...)
}

// For returns the results recorded for id
func (s *ResultSink) For(id string) []domain.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Result
	for _, r := range s.results {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

// NotificationSink records status notifications
type NotificationSink struct {
	Fail          func(domain.StatusNotification) error
	notifications []domain.StatusNotification
	mu            sync.Mutex
}

// NewNotificationSink creates an empty notification sink
func NewNotificationSink() *NotificationSink {
	return &NotificationSink{}
}

var _ ports.StatusNotifier = (*NotificationSink)(nil)

// Notify implements ports.StatusNotifier
func (s *NotificationSink) Notify(_ context.Context, n domain.StatusNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		if err := s.Fail(n); err != nil {
			return err
		}
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// For returns the notifications recorded for id
func (s *NotificationSink) For(id string) []domain.StatusNotification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StatusNotification
	for _, n := range s.notifications {
		if n.UUID == id {
			out = append(out, n)
		}
	}
	return out
}

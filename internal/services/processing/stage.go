package processing

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	pkgerrors "github.com/kevin07696/processing-service/pkg/errors"
)

// extra_info key recording why a void step failed when the transaction
// already carries the original failure reason
const voidErrorKey = "void_error"

// envelope carries a transaction between stages. Whoever holds the
// envelope owns the transaction.
type envelope struct {
	started   time.Time
	tx        *domain.Transaction
	delivery  ports.Delivery
	attemptID string
	// pending counts retriable failures at the current stage
	pending int
	// admitted is set while the envelope holds its id in the tracker
	admitted bool
}

// stage runs one status of the table
type stage struct {
	o          *Orchestrator
	logger     *zap.Logger
	in         chan *envelope
	onSuccess  chan *envelope
	onFailure  chan *envelope
	transition Transition
	step       domain.Step
}

func (s *stage) name() string {
	return string(s.transition.Status)
}

func (s *stage) run() {
	defer s.o.stages.Done()

	for {
		select {
		case <-s.o.stop:
			return
		case env := <-s.in:
			switch s.transition.Kind {
			case KindTerminal:
				s.finish(env)
			default:
				s.process(env)
			}
		}
	}
}

func (s *stage) envLogger(env *envelope) *zap.Logger {
	return s.logger.With(
		zap.String("transaction_id", env.tx.ID),
		zap.String("paysys_id", env.tx.PaysysID),
		zap.String("attempt_id", env.attemptID),
	)
}

// process runs the payment interface step and routes the transaction
func (s *stage) process(env *envelope) {
	logger := s.envLogger(env)
	tx := env.tx

	stepCtx, cancel := s.o.cfg.Timeouts.StepContext(s.o.ctx)
	start := time.Now()
	out, err := s.o.dispatcher.Process(stepCtx, tx.PaysysID, s.step, tx)
	cancel()
	stepDuration.WithLabelValues(s.name()).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.succeed(env, out, logger)

	case pkgerrors.IsRetriable(err) && env.pending < s.o.cfg.PendingMaxAttempts:
		s.requeue(env, err, logger)

	case pkgerrors.IsRetriable(err), domain.IsDecline(err):
		s.decline(env, err, logger)

	default:
		s.o.fatal(env, s.name(), err, logger)
	}
}

func (s *stage) succeed(env *envelope, out *domain.Transaction, logger *zap.Logger) {
	next := s.transition.OnSuccess
	storeCtx, cancel := s.o.cfg.Timeouts.StoreContext(s.o.ctx)
	err := s.o.store.UpdateStatus(storeCtx, out.ID, next,
		ports.ExpectStatus(s.transition.Status),
		ports.WithExtraInfo(out.ExtraInfo),
	)
	cancel()
	if err != nil {
		s.o.fatal(env, s.name(), err, logger)
		return
	}

	stageOutcomes.WithLabelValues(s.name(), outcomeSuccess).Inc()
	logger.Info("Processing step succeeded",
		zap.String("step", string(s.step)),
		zap.String("next_status", string(next)),
	)

	if url := redirectURL(out); url != "" && url != redirectURL(env.tx) {
		s.o.notify(domain.StatusNotification{Status: domain.NotificationNeed3DS, UUID: out.ID, URL: url}, logger)
	}

	out.Status = next
	env.tx = out
	env.pending = 0
	s.o.forward(s.onSuccess, env)
}

func (s *stage) decline(env *envelope, cause error, logger *zap.Logger) {
	tx := env.tx
	msg := errorMessage(cause)
	opts := []ports.UpdateOption{ports.ExpectStatus(s.transition.Status)}

	if tx.ErrorMessage() != "" && s.transition.Status == domain.StatusVoid {
		// Keep the failure that sent the transaction to void
		info := map[string]interface{}{voidErrorKey: msg}
		tx.MergeExtraInfo(info)
		opts = append(opts, ports.WithExtraInfo(info))
	} else {
		tx.SetError(msg)
		opts = append(opts, ports.WithError(msg))
	}

	next := s.transition.OnFailure
	storeCtx, cancel := s.o.cfg.Timeouts.StoreContext(s.o.ctx)
	err := s.o.store.UpdateStatus(storeCtx, tx.ID, next, opts...)
	cancel()
	if err != nil {
		s.o.fatal(env, s.name(), err, logger)
		return
	}

	stageOutcomes.WithLabelValues(s.name(), outcomeDecline).Inc()
	logger.Info("Processing step declined",
		zap.String("step", string(s.step)),
		zap.String("next_status", string(next)),
		zap.String("reason", msg),
	)

	tx.Status = next
	env.pending = 0
	s.o.forward(s.onFailure, env)
}

// requeue puts the envelope back on this stage's input after a backoff.
// The stored status is left alone.
func (s *stage) requeue(env *envelope, cause error, logger *zap.Logger) {
	env.pending++
	delay := s.o.cfg.PendingBackoff.NextDelay(env.pending - 1)

	stageOutcomes.WithLabelValues(s.name(), outcomePending).Inc()
	logger.Warn("Processing step pending, requeueing",
		zap.String("step", string(s.step)),
		zap.Int("pending_attempt", env.pending),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)

	time.AfterFunc(delay, func() {
		s.refresh(env, logger)
		s.o.forward(s.in, env)
	})
}

// refresh merges the stored extra_info into a requeued transaction so the
// next attempt sees data resubmitted while it waited
func (s *stage) refresh(env *envelope, logger *zap.Logger) {
	stored, found, err := s.o.load(env.tx.ID)
	if err != nil || !found {
		logger.Warn("Failed to reload requeued transaction, retrying with held copy",
			zap.Bool("found", found),
			zap.Error(err),
		)
		return
	}
	if stored.Status != env.tx.Status {
		return
	}
	env.tx.MergeExtraInfo(stored.ExtraInfo)
}

// finish persists the terminal status, publishes the result and
// acknowledges the inbound message
func (s *stage) finish(env *envelope) {
	logger := s.envLogger(env)
	tx := env.tx
	status := s.transition.Status

	storeCtx, cancel := s.o.cfg.Timeouts.StoreContext(s.o.ctx)
	err := s.o.store.UpdateStatus(storeCtx, tx.ID, status, ports.ExpectStatus(status))
	cancel()
	if err != nil {
		s.o.fatal(env, s.name(), err, logger)
		return
	}
	tx.Status = status

	result := domain.ResultFromTransaction(tx)
	if !s.o.publish(env, result, logger) {
		return
	}

	notification := domain.NotificationApproved
	if status != domain.StatusSuccess {
		notification = domain.NotificationDecline
	}
	s.o.notify(domain.StatusNotification{Status: notification, UUID: tx.ID}, logger)

	transactionDuration.WithLabelValues(string(result.Status)).Observe(time.Since(env.started).Seconds())
	logger.Info("Transaction processed",
		zap.String("status", string(result.Status)),
		zap.String("error", result.Error),
		zap.Duration("elapsed", time.Since(env.started)),
	)
	s.o.ack(env, logger)
	s.o.release(env)
}

func redirectURL(tx *domain.Transaction) string {
	if tx == nil {
		return ""
	}
	url, _ := tx.ExtraInfo[domain.RedirectURLKey].(string)
	return url
}

// errorMessage is the text stored and published for a failure
func errorMessage(err error) string {
	if pe, ok := pkgerrors.AsPaymentError(err); ok {
		return pe.Message
	}
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

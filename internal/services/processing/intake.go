package processing

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	"github.com/kevin07696/processing-service/pkg/resilience"
)

// runIntake is the accepting stage. It pulls inbound messages until ctx is
// cancelled and admits each one into the pipeline.
func (o *Orchestrator) runIntake(ctx context.Context) {
	defer o.intake.Done()

	failures := 0
	for {
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}

		d, err := o.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			fetchErrors.Inc()
			delay := o.cfg.ReconnectBackoff.NextDelay(failures - 1)
			o.logger.Error("Failed to fetch inbound message",
				zap.Int("consecutive_failures", failures),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
			if resilience.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		if failures > 0 {
			o.logger.Info("Inbound queue reachable again", zap.Int("after_failures", failures))
			failures = 0
		}
		o.admit(d)
	}
}

// admit parses a delivery and claims its transaction id
func (o *Orchestrator) admit(d ports.Delivery) {
	env := &envelope{
		started:   time.Now(),
		delivery:  d,
		attemptID: uuid.NewString(),
	}
	logger := o.logger.With(zap.String("stage", string(o.table.Entry())), zap.String("attempt_id", env.attemptID))

	tx, err := domain.ParseTransaction(d.Body())
	if err != nil {
		intakeTotal.WithLabelValues(intakeMalformed).Inc()
		id := peekID(d.Body())
		logger.Error("Rejected malformed transaction message",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		if id != "" {
			env.tx = &domain.Transaction{ID: id}
			result := domain.Result{ID: id, Status: domain.ResultRejected, Error: err.Error()}
			if !o.publish(env, result, logger) {
				return
			}
		}
		o.ack(env, logger)
		return
	}

	env.tx = tx
	logger = logger.With(
		zap.String("transaction_id", tx.ID),
		zap.String("paysys_id", tx.PaysysID),
	)

	if !o.tracker.Add(tx.ID) {
		if o.tracker.IsShuttingDown() {
			logger.Info("Intake closed, leaving message for redelivery")
			return
		}
		o.resubmit(env, logger)
		return
	}
	env.admitted = true
	inFlight.Inc()

	o.accept(env, logger)
}

// accept creates the transaction or picks up the stored copy
func (o *Orchestrator) accept(env *envelope, logger *zap.Logger) {
	entry := string(o.table.Entry())
	id := env.tx.ID

	stored, found, err := o.load(id)
	if err != nil {
		o.fatal(env, entry, err, logger)
		return
	}

	if !found {
		err = o.save(env.tx)
		if err == nil {
			intakeTotal.WithLabelValues(intakeNew).Inc()
			logger.Info("Transaction accepted",
				zap.String("amount", env.tx.Amount.String()),
				zap.String("currency", env.tx.Currency),
			)
			o.advance(env, logger)
			return
		}
		if !domain.IsDomainError(err, domain.ErrorCodeTxnAlreadyExists) {
			o.fatal(env, entry, err, logger)
			return
		}

		// Another consumer saved it between our load and save
		stored, found, err = o.load(id)
		if err == nil && !found {
			err = domain.ErrTxnNotFound
		}
		if err != nil {
			o.fatal(env, entry, err, logger)
			return
		}
	}

	o.resume(env, stored, logger)
}

// resume continues a transaction that already exists in the store
func (o *Orchestrator) resume(env *envelope, stored *domain.Transaction, logger *zap.Logger) {
	entry := string(o.table.Entry())
	logger = logger.With(zap.String("stored_status", string(stored.Status)))

	if stored.Status.IsTerminal() {
		intakeTotal.WithLabelValues(intakeRedelivery).Inc()
		logger.Info("Transaction already processed, republishing result")
		env.tx = stored
		if !o.publish(env, domain.ResultFromTransaction(stored), logger) {
			return
		}
		o.ack(env, logger)
		o.release(env)
		return
	}

	intakeTotal.WithLabelValues(intakeResumed).Inc()

	if incoming := env.tx.ExtraInfo; len(incoming) > 0 {
		ctx, cancel := o.cfg.Timeouts.StoreContext(o.ctx)
		err := o.store.UpdateStatus(ctx, stored.ID, stored.Status,
			ports.ExpectStatus(stored.Status),
			ports.WithExtraInfo(incoming),
		)
		cancel()
		if err != nil {
			o.fatal(env, entry, err, logger)
			return
		}
		stored.MergeExtraInfo(incoming)
	}
	env.tx = stored

	if stored.Status == o.table.Entry() {
		o.advance(env, logger)
		return
	}

	ch, ok := o.inputs[stored.Status]
	if !ok {
		o.fatal(env, entry, domain.NewDomainError(domain.ErrorCodeInternalError,
			"stored status has no stage").WithDetail("status", string(stored.Status)), logger)
		return
	}

	logger.Info("Resuming transaction")
	o.forward(ch, env)
}

// resubmitAttempts bounds reloads when the in-flight transaction moves on
// while its extra_info is being merged
const resubmitAttempts = 3

// resubmit handles a message whose transaction is already in flight. Its
// extra_info, such as a 3-D Secure confirmation, is merged into the stored
// record where the running attempt picks it up on its next requeue.
func (o *Orchestrator) resubmit(env *envelope, logger *zap.Logger) {
	incoming := env.tx.ExtraInfo
	if len(incoming) == 0 {
		intakeTotal.WithLabelValues(intakeDuplicate).Inc()
		logger.Warn("Transaction already in flight, dropping duplicate message")
		o.ack(env, logger)
		return
	}

	var err error
	for range resubmitAttempts {
		var (
			stored *domain.Transaction
			found  bool
		)
		stored, found, err = o.load(env.tx.ID)
		if err == nil && !found {
			err = domain.ErrTxnNotFound
		}
		if err != nil {
			break
		}
		if stored.Status.IsTerminal() {
			intakeTotal.WithLabelValues(intakeDuplicate).Inc()
			logger.Info("Transaction finished before resubmission could be merged",
				zap.String("stored_status", string(stored.Status)),
			)
			o.ack(env, logger)
			return
		}

		ctx, cancel := o.cfg.Timeouts.StoreContext(o.ctx)
		err = o.store.UpdateStatus(ctx, stored.ID, stored.Status,
			ports.ExpectStatus(stored.Status),
			ports.WithExtraInfo(incoming),
		)
		cancel()
		if err == nil {
			intakeTotal.WithLabelValues(intakeResubmit).Inc()
			logger.Info("Merged resubmitted extra_info into in-flight transaction",
				zap.String("stored_status", string(stored.Status)),
			)
			o.ack(env, logger)
			return
		}
		if !domain.IsDomainError(err, domain.ErrorCodeTxnStatusConflict) {
			break
		}
	}

	// Unacked, so the broker redelivers it and resume merges it then
	logger.Error("Failed to merge resubmitted extra_info, leaving message for redelivery", zap.Error(err))
}

// advance moves an accepted transaction onto the entry's success edge
func (o *Orchestrator) advance(env *envelope, logger *zap.Logger) {
	entry := o.table.Entry()
	tr, _ := o.table.Lookup(entry)

	ctx, cancel := o.cfg.Timeouts.StoreContext(o.ctx)
	err := o.store.UpdateStatus(ctx, env.tx.ID, tr.OnSuccess, ports.ExpectStatus(entry))
	cancel()
	if err != nil {
		o.fatal(env, string(entry), err, logger)
		return
	}

	stageOutcomes.WithLabelValues(string(entry), outcomeSuccess).Inc()
	env.tx.Status = tr.OnSuccess
	o.forward(o.inputs[tr.OnSuccess], env)
}

func (o *Orchestrator) load(id string) (*domain.Transaction, bool, error) {
	ctx, cancel := o.cfg.Timeouts.StoreContext(o.ctx)
	defer cancel()
	return o.store.Load(ctx, id)
}

func (o *Orchestrator) save(tx *domain.Transaction) error {
	ctx, cancel := o.cfg.Timeouts.StoreContext(o.ctx)
	defer cancel()
	return o.store.Save(ctx, tx)
}

// peekID pulls the id out of a message that failed validation so the
// rejection can be reported against it
func peekID(body []byte) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return ""
	}
	return strings.TrimSpace(head.ID)
}

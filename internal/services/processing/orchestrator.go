package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kevin07696/processing-service/internal/domain"
	"github.com/kevin07696/processing-service/internal/domain/ports"
	"github.com/kevin07696/processing-service/pkg/resilience"
	"github.com/kevin07696/processing-service/pkg/shutdown"
)

// Dispatcher runs a payment interface step. *paysys.Registry implements it.
type Dispatcher interface {
	Process(ctx context.Context, paysysID string, step domain.Step, tx *domain.Transaction) (*domain.Transaction, error)
}

// Config tunes the pipeline
type Config struct {
	Timeouts         *resilience.TimeoutConfig
	PendingBackoff   resilience.BackoffStrategy
	ReconnectBackoff resilience.BackoffStrategy

	// ChannelCapacity is the buffer between consecutive stages
	ChannelCapacity int
	// PendingMaxAttempts bounds requeues of a retriable step failure
	// before it is handled as a decline
	PendingMaxAttempts int
	// IntakeRate limits admitted messages per second; zero is unlimited
	IntakeRate  float64
	IntakeBurst int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Timeouts:           resilience.DefaultTimeoutConfig(),
		PendingBackoff:     resilience.PendingRequeueBackoff(),
		ReconnectBackoff:   resilience.QueueReconnectBackoff(),
		ChannelCapacity:    100,
		PendingMaxAttempts: 10,
	}
}

// Dependencies are the ports the pipeline talks to. Notifier is optional.
type Dependencies struct {
	Store      ports.TransactionStore
	Dispatcher Dispatcher
	Consumer   ports.MessageConsumer
	Publisher  ports.ResultPublisher
	Notifier   ports.StatusNotifier
}

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

// Orchestrator builds one stage per table row, connects them with
// channels and feeds the entry stage from the inbound queue.
type Orchestrator struct {
	ctx         context.Context
	store       ports.TransactionStore
	dispatcher  Dispatcher
	consumer    ports.MessageConsumer
	publisher   ports.ResultPublisher
	notifier    ports.StatusNotifier
	logger      *zap.Logger
	tracker     *shutdown.InFlightTracker
	limiter     *rate.Limiter
	inputs      map[domain.Status]chan *envelope
	stop        chan struct{}
	cancelFetch context.CancelFunc
	table       Table
	cfg         Config
	stages      sync.WaitGroup
	intake      sync.WaitGroup
	state       atomic.Int32
}

// NewOrchestrator validates table and wires the stages. Nothing runs
// until Start.
func NewOrchestrator(cfg Config, table Table, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processing table: %w", err)
	}
	if deps.Store == nil || deps.Dispatcher == nil || deps.Consumer == nil || deps.Publisher == nil {
		return nil, errors.New("store, dispatcher, consumer and publisher are required")
	}

	defaults := DefaultConfig()
	if cfg.Timeouts == nil {
		cfg.Timeouts = defaults.Timeouts
	}
	if cfg.PendingBackoff == nil {
		cfg.PendingBackoff = defaults.PendingBackoff
	}
	if cfg.ReconnectBackoff == nil {
		cfg.ReconnectBackoff = defaults.ReconnectBackoff
	}
	if cfg.ChannelCapacity < 0 {
		cfg.ChannelCapacity = 0
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.IntakeRate > 0 {
		burst := cfg.IntakeBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.IntakeRate), burst)
	}

	o := &Orchestrator{
		cfg:        cfg,
		table:      table,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		consumer:   deps.Consumer,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		logger:     logger,
		tracker:    shutdown.NewInFlightTracker("processing", logger),
		limiter:    limiter,
		inputs:     make(map[domain.Status]chan *envelope, len(table)),
		stop:       make(chan struct{}),
		ctx:        context.Background(),
	}
	for _, tr := range table {
		if tr.Kind != KindAccepting {
			o.inputs[tr.Status] = make(chan *envelope, cfg.ChannelCapacity)
		}
	}
	return o, nil
}

// Start launches the stage goroutines and the intake loop. Cancelling ctx
// does not interrupt in-flight work; use Shutdown.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.state.CompareAndSwap(stateNew, stateRunning) {
		return errors.New("orchestrator already started")
	}

	o.ctx = context.WithoutCancel(ctx)
	fetchCtx, cancel := context.WithCancel(o.ctx)
	o.cancelFetch = cancel

	for _, tr := range o.table {
		if tr.Kind == KindAccepting {
			continue
		}
		s := &stage{
			o:          o,
			logger:     o.logger.With(zap.String("stage", string(tr.Status))),
			in:         o.inputs[tr.Status],
			onSuccess:  o.inputs[tr.OnSuccess],
			onFailure:  o.inputs[tr.OnFailure],
			transition: tr,
		}
		if tr.Kind == KindQueue {
			s.step, _ = domain.StepFor(tr.Status)
		}
		o.stages.Add(1)
		go s.run()
	}

	o.intake.Add(1)
	go o.runIntake(fetchCtx)

	o.logger.Info("Processing orchestrator started",
		zap.Int("stages", len(o.table)),
		zap.Int("channel_capacity", o.cfg.ChannelCapacity),
		zap.Int("pending_max_attempts", o.cfg.PendingMaxAttempts),
		zap.Float64("intake_rate", o.cfg.IntakeRate),
	)
	return nil
}

// Shutdown stops intake, waits until every admitted transaction reaches a
// published outcome or ctx ends, then stops the stages and closes the
// consumer. Transactions still inside the pipeline stay unacknowledged.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.state.CompareAndSwap(stateRunning, stateStopped) {
		return nil
	}

	o.logger.Info("Shutting down processing orchestrator",
		zap.Int("in_flight", o.tracker.Len()),
	)

	o.cancelFetch()
	o.intake.Wait()

	drainErr := o.tracker.Shutdown(ctx)

	close(o.stop)
	o.stages.Wait()

	closeErr := o.consumer.Close()
	if closeErr != nil {
		o.logger.Error("Failed to close inbound consumer", zap.Error(closeErr))
	}

	o.logger.Info("Processing orchestrator stopped",
		zap.Int("abandoned", o.tracker.Len()),
	)
	return errors.Join(drainErr, closeErr)
}

// Running reports whether the pipeline is accepting work
func (o *Orchestrator) Running() bool {
	return o.state.Load() == stateRunning
}

// HealthCheck fails once the orchestrator is not running
func (o *Orchestrator) HealthCheck(context.Context) error {
	if !o.Running() {
		return errors.New("processing orchestrator not running")
	}
	return nil
}

// InFlight returns the number of admitted transactions without an outcome
func (o *Orchestrator) InFlight() int {
	return o.tracker.Len()
}

// forward hands env to the next stage. After shutdown the envelope is
// dropped unacknowledged.
func (o *Orchestrator) forward(ch chan *envelope, env *envelope) {
	select {
	case ch <- env:
	case <-o.stop:
		o.logger.Warn("Pipeline stopped, leaving transaction for redelivery",
			zap.String("transaction_id", env.tx.ID),
			zap.String("status", string(env.tx.Status)),
		)
		o.release(env)
	}
}

// fatal ends the attempt with REJECTED. The stored status is not advanced.
func (o *Orchestrator) fatal(env *envelope, stageName string, err error, logger *zap.Logger) {
	stageOutcomes.WithLabelValues(stageName, outcomeFatal).Inc()
	logger.Error("Processing failed, rejecting attempt",
		zap.String("stage", stageName),
		zap.Error(err),
	)

	result := domain.Result{ID: env.tx.ID, Status: domain.ResultRejected, Error: err.Error()}
	if !o.publish(env, result, logger) {
		return
	}
	o.ack(env, logger)
	o.release(env)
}

// publish emits result. On failure the envelope is released without an
// ack so the broker redelivers the message.
func (o *Orchestrator) publish(env *envelope, result domain.Result, logger *zap.Logger) bool {
	ctx, cancel := o.cfg.Timeouts.PublishContext(o.ctx)
	defer cancel()

	if err := o.publisher.PublishResult(ctx, result); err != nil {
		publishFailures.Inc()
		logger.Error("Failed to publish result, message left for redelivery",
			zap.String("status", string(result.Status)),
			zap.Error(err),
		)
		o.release(env)
		return false
	}
	resultsPublished.WithLabelValues(string(result.Status)).Inc()
	return true
}

func (o *Orchestrator) notify(n domain.StatusNotification, logger *zap.Logger) {
	if o.notifier == nil {
		return
	}
	ctx, cancel := o.cfg.Timeouts.PublishContext(o.ctx)
	defer cancel()

	if err := o.notifier.Notify(ctx, n); err != nil {
		logger.Warn("Failed to send status notification",
			zap.String("notification", string(n.Status)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) ack(env *envelope, logger *zap.Logger) {
	ctx, cancel := o.cfg.Timeouts.PublishContext(o.ctx)
	defer cancel()

	if err := env.delivery.Ack(ctx); err != nil {
		logger.Warn("Failed to acknowledge inbound message", zap.Error(err))
	}
}

// release ends the envelope's hold on its transaction id
func (o *Orchestrator) release(env *envelope) {
	if !env.admitted {
		return
	}
	env.admitted = false
	o.tracker.Done(env.tx.ID)
	inFlight.Dec()
}

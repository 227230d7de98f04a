package processing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage outcomes
const (
	outcomeSuccess = "success"
	outcomeDecline = "decline"
	outcomePending = "pending"
	outcomeFatal   = "fatal"
)

// Intake outcomes
const (
	intakeNew        = "new"
	intakeResumed    = "resumed"
	intakeRedelivery = "redelivery"
	intakeDuplicate  = "duplicate"
	intakeResubmit   = "resubmitted"
	intakeMalformed  = "malformed"
)

var (
	stageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_stage_outcomes_total",
		Help: "Outcomes of processing stages",
	}, []string{"stage", "outcome"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processing_step_duration_seconds",
		Help:    "Payment interface step duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	intakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_intake_total",
		Help: "Inbound messages by admission outcome",
	}, []string{"outcome"})

	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "processing_fetch_errors_total",
		Help: "Failed fetches from the inbound queue",
	})

	resultsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_results_published_total",
		Help: "Results published by status",
	}, []string{"status"})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "processing_result_publish_failures_total",
		Help: "Results that could not be published; the inbound message is left unacknowledged",
	})

	transactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processing_transaction_duration_seconds",
		Help:    "Time from intake to published result",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"status"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "processing_in_flight",
		Help: "Transactions currently inside the pipeline",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoundsDispatched tracks successfully dispatched rounds per task
	RoundsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_rounds_dispatched_total",
			Help: "Total number of rounds dispatched",
		},
		[]string{"task"},
	)

	// RoundFailures tracks failed round attempts per task and category
	RoundFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_round_failures_total",
			Help: "Total number of failed round attempts",
		},
		[]string{"task", "category"},
	)

	// GuardrailDenials tracks guardrail denials per task and reason
	GuardrailDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_guardrail_denials_total",
			Help: "Total number of guardrail denials",
		},
		[]string{"task", "reason"},
	)

	// SyncsTotal tracks branch sync invocations per task and outcome
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_syncs_total",
			Help: "Total number of branch sync invocations",
		},
		[]string{"task", "outcome"},
	)

	// RetryAttempts tracks remote call retries per operation class
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_retry_attempts_total",
			Help: "Total number of retried remote calls",
		},
		[]string{"class"},
	)

	// Escalations tracks escalation events per task
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_escalations_total",
			Help: "Total number of escalation events",
		},
		[]string{"task"},
	)

	// RoundDuration tracks end-to-end round latency per task
	RoundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roundkeeper_round_duration_seconds",
			Help:    "Round cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// QuotaRemaining tracks the remaining platform API quota
	QuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roundkeeper_quota_remaining",
			Help: "Remaining platform API quota",
		},
	)

	// TaskRound tracks the current round number per task
	TaskRound = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roundkeeper_task_round",
			Help: "Current round number of the task",
		},
		[]string{"task"},
	)

	// InFlight tracks concurrently executing rounds per task
	InFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roundkeeper_in_flight",
			Help: "Concurrently executing rounds",
		},
		[]string{"task"},
	)
)

// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Zeebe job workers
var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Conversation core
var (
	TurnsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbot_turns_resolved_total",
			Help: "Resolved turns by step and origin (ai_accepted, ai_repaired, structured_fallback, none)",
		},
		[]string{"step", "origin"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderbot_turn_duration_seconds",
			Help:    "End-to-end duration of one inbound message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	AIFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbot_ai_failures_total",
			Help: "Interpreter failures by kind (timeout, quota, malformed, unavailable, circuit_open)",
		},
		[]string{"kind"},
	)

	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbot_session_events_total",
			Help: "Coordinator events (duplicate, conflict, busy, expired, released)",
		},
		[]string{"event"},
	)

	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderbot_lock_wait_seconds",
			Help:    "Time spent waiting for a per-user lock",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderbot_active_sessions",
			Help: "Sessions known to the coordinator's store at the last janitor pass",
		},
	)

	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbot_guard_rejections_total",
			Help: "Inbound messages rejected before resolution (rate_limited, spam, empty)",
		},
		[]string{"reason"},
	)

	OrdersPlaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderbot_orders_placed_total",
			Help: "Confirmed orders persisted",
		},
	)

	OutboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbot_outbound_messages_total",
			Help: "Outbound channel messages by status",
		},
		[]string{"status"},
	)
)

// Package metrics holds the Prometheus collectors for the timer dispatcher,
// workflow tracker, notification fan-out and rollback coordinator.
package metrics

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry is the registry every jobpulse collector is registered on
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TimersClaimed, TimersReset, TimerOutcomes, TimerDuration, TimersInFlight,
		TimersScheduled, TimersCancelled,
		WorkflowTransitions,
		NotificationsPublished, NotificationSubscribers,
		RollbacksTotal,
	)
}

// TimersClaimed counts timers moved from pending to processing by the dispatcher
var TimersClaimed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobpulse_timers_claimed_total",
		Help: "Timers claimed by the dispatcher",
	},
)

// TimersReset counts stale processing timers returned to pending
var TimersReset = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobpulse_timers_reset_total",
		Help: "Stale processing timers reset to pending",
	},
)

// TimerOutcomes counts finished handler runs
var TimerOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobpulse_timer_outcomes_total",
		Help: "Finished timer handler runs by kind and outcome",
	},
	[]string{"kind", "outcome"}, // completed | failed | panicked | timeout | unknown_kind
)

// TimerDuration is handler execution time in seconds
var TimerDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "jobpulse_timer_duration_seconds",
		Help:    "Timer handler execution time in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// TimersInFlight is the number of handlers currently running
var TimersInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "jobpulse_timers_in_flight",
		Help: "Timer handlers currently running",
	},
)

// TimersScheduled counts timers created (deduplicated schedules excluded)
var TimersScheduled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobpulse_timers_scheduled_total",
		Help: "Timers scheduled by kind",
	},
	[]string{"kind"},
)

// TimersCancelled counts pending timers cancelled before firing
var TimersCancelled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobpulse_timers_cancelled_total",
		Help: "Pending timers cancelled before they fired",
	},
)

// WorkflowTransitions counts workflow run status changes by target status
var WorkflowTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobpulse_workflow_transitions_total",
		Help: "Workflow run transitions by target status",
	},
	[]string{"status"},
)

// NotificationsPublished counts notifications fanned out by type
var NotificationsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobpulse_notifications_published_total",
		Help: "Notifications published by type",
	},
	[]string{"type"},
)

// NotificationSubscribers is the number of live subscriptions
var NotificationSubscribers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "jobpulse_notification_subscribers",
		Help: "Live notification subscriptions",
	},
)

// RollbacksTotal counts rollback attempts by outcome
var RollbacksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobpulse_rollbacks_total",
		Help: "Application rollbacks by outcome",
	},
	[]string{"outcome"}, // ok | not_found | error
)

// Handler serves DefaultRegistry for /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}

// WritePrometheus writes DefaultRegistry in the Prometheus text format
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

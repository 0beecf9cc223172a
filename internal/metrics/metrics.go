package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "placement",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	numbersAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "numbering",
			Name:      "allocations_total",
			Help:      "Document numbers handed out.",
		},
		[]string{"template_kind", "language"},
	)

	sequenceConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "numbering",
			Name:      "conflicts_total",
			Help:      "Compare-and-set losses while advancing a sequence.",
		},
		[]string{"template_kind", "language"},
	)

	numberCollisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "numbering",
			Name:      "collisions_total",
			Help:      "Formatted numbers skipped because they were already issued.",
		},
		[]string{"template_kind", "language"},
	)

	sequenceOverflows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "numbering",
			Name:      "width_overflows_total",
			Help:      "Numbers formatted wider than the configured digit width.",
		},
		[]string{"template_kind", "language"},
	)

	prints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "print",
			Name:      "items_total",
			Help:      "Print batch items by outcome.",
		},
		[]string{"outcome"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "ledger",
			Name:      "transitions_total",
			Help:      "Application status transitions.",
		},
		[]string{"from", "to", "override"},
	)

	trackerSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "tracker",
			Name:      "steps_total",
			Help:      "Tracker steps completed.",
		},
		[]string{"tracker", "step"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "committee",
			Name:      "decisions_total",
			Help:      "Committee decisions recorded.",
		},
		[]string{"status"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "placement",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Workflow events handed to the notification sink by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		numbersAllocated,
		sequenceConflicts,
		numberCollisions,
		sequenceOverflows,
		prints,
		transitions,
		trackerSteps,
		decisions,
		notifications,
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordAllocation(templateKind, language string) {
	numbersAllocated.WithLabelValues(templateKind, language).Inc()
}

func RecordSequenceConflict(templateKind, language string) {
	sequenceConflicts.WithLabelValues(templateKind, language).Inc()
}

func RecordNumberCollision(templateKind, language string) {
	numberCollisions.WithLabelValues(templateKind, language).Inc()
}

func RecordSequenceOverflow(templateKind, language string) {
	sequenceOverflows.WithLabelValues(templateKind, language).Inc()
}

// RecordPrint counts one batch item: printed, already_printed or failed.
func RecordPrint(outcome string) {
	prints.WithLabelValues(outcome).Inc()
}

func RecordTransition(from, to string, override bool) {
	transitions.WithLabelValues(from, to, strconv.FormatBool(override)).Inc()
}

func RecordTrackerStep(tracker, step string) {
	trackerSteps.WithLabelValues(tracker, step).Inc()
}

func RecordDecision(status string) {
	decisions.WithLabelValues(status).Inc()
}

func RecordNotification(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

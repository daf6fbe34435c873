package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registrationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volunteer_service",
		Subsystem: "ledger",
		Name:      "registrations_created_total",
		Help:      "Number of registrations created, labeled by entry path (single, batch).",
	}, []string{"path"})

	registrationsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volunteer_service",
		Subsystem: "ledger",
		Name:      "registrations_rejected_total",
		Help:      "Number of registration requests rolled back, labeled by reason.",
	}, []string{"reason"})

	registrationsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "volunteer_service",
		Subsystem: "ledger",
		Name:      "registrations_deleted_total",
		Help:      "Number of registrations deleted by their owners.",
	})

	statusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volunteer_service",
		Subsystem: "status",
		Name:      "transitions_total",
		Help:      "Number of applied registration status transitions.",
	}, []string{"from", "to"})

	lastWriteGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "volunteer_service",
		Subsystem: "ledger",
		Name:      "last_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed ledger write.",
	})

	planAchievedHours = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "volunteer_service",
		Subsystem: "planner",
		Name:      "achieved_hours",
		Help:      "Hours covered by generated plans.",
		Buckets:   prometheus.LinearBuckets(0, 5, 12),
	})

	planShortfalls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "volunteer_service",
		Subsystem: "planner",
		Name:      "shortfalls_total",
		Help:      "Number of plans that ran out of candidates before the target.",
	})

	counterRepairs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "volunteer_service",
		Subsystem: "reconciler",
		Name:      "counter_repairs_total",
		Help:      "Number of activities whose stored counters were rewritten by the reconciler.",
	})
)

func init() {
	prometheus.MustRegister(
		registrationsCreated,
		registrationsRejected,
		registrationsDeleted,
		statusTransitions,
		lastWriteGauge,
		planAchievedHours,
		planShortfalls,
		counterRepairs,
	)
}

// RecordRegistrationsCreated counts committed registrations.
func RecordRegistrationsCreated(path string, n int) {
	registrationsCreated.WithLabelValues(path).Add(float64(n))
	markWrite()
}

// RecordRegistrationRejected counts a rolled back registration request.
func RecordRegistrationRejected(reason string) {
	registrationsRejected.WithLabelValues(reason).Inc()
}

// RecordRegistrationDeleted counts a committed delete.
func RecordRegistrationDeleted() {
	registrationsDeleted.Inc()
	markWrite()
}

// RecordStatusTransition counts a committed status change.
func RecordStatusTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
	markWrite()
}

// RecordPlan observes the outcome of a planner run.
func RecordPlan(achievedHours int, shortfall bool) {
	planAchievedHours.Observe(float64(achievedHours))
	if shortfall {
		planShortfalls.Inc()
	}
}

// RecordCounterRepairs counts activities fixed by a reconciliation pass.
func RecordCounterRepairs(n int) {
	if n <= 0 {
		return
	}
	counterRepairs.Add(float64(n))
}

func markWrite() {
	lastWriteGauge.Set(float64(time.Now().Unix()))
}

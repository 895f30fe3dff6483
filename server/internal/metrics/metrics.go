package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwatch_readings_ingested_total",
			Help: "Telemetry readings accepted by the ingest endpoint",
		},
		[]string{"source"}, // http | agent
	)

	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwatch_readings_rejected_total",
			Help: "Telemetry readings rejected as malformed",
		},
		[]string{"reason"}, // bad_json | missing_session | no_probes
	)

	TimestampsUnparseable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pitwatch_timestamps_unparseable_total",
			Help: "Readings whose timestamp matched no known encoding",
		},
	)

	// Alert engine metrics
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwatch_alerts_fired_total",
			Help: "Alerts that passed the dedup gate and were dispatched",
		},
		[]string{"direction"}, // below | above
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pitwatch_alerts_suppressed_total",
			Help: "Alert candidates suppressed by the dedup gate",
		},
	)

	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwatch_notify_failures_total",
			Help: "Notification deliveries that returned an error",
		},
		[]string{"target"},
	)

	// Session tracker metrics
	SweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwatch_sweep_transitions_total",
			Help: "Session status transitions applied by the liveness sweep",
		},
		[]string{"to"}, // active | stale | ended
	)
)

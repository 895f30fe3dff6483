// Package metrics defines the Prometheus instrumentation for the server:
// ingest throughput, malformed-record skips, alert engine decisions, and
// session sweep transitions.
package metrics

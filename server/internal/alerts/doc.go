// Package alerts implements threshold evaluation for probe readings and the
// deduplication gate that keeps a sustained excursion from producing a
// notification per telemetry tick. Evaluation is a pure function; the gate
// persists its per-probe direction in the durable store so separate runs do
// not re-alert.
package alerts

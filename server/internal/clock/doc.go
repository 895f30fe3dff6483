// Package clock normalizes the heterogeneous timestamp encodings found in
// probe telemetry — epoch numbers, epoch strings, bare HHMMSS wall clocks,
// 14-digit session identifiers, and RFC3339 — into canonical Unix epochs.
package clock

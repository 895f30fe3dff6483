// Package ws implements the live telemetry feed. Connected dashboards
// receive each accepted reading and each fired alert as it happens, plus a
// periodic session status frame so staleness shows up without polling.
package ws

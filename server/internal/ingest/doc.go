// Package ingest is the telemetry front door. It accepts the controller's
// flat JSON readings over HTTP, normalizes their timestamps, persists them,
// and drives the session tracker and the alert engine for each accepted
// sample.
package ingest

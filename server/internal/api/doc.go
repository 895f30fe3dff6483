// Package api exposes the REST surface: session lifecycle queries, probe
// assignment management, telemetry and alert history, and the optional
// cooking-advice endpoint. All responses are JSON.
package api

// Package session implements the cook session lifecycle tracker. Sessions
// are inferred purely from telemetry arrival: an event upserts the session
// record, a periodic sweep judges liveness against the gap window, and a
// longer timeout is the only path into the terminal ended state.
package session

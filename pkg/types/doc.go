// Package types defines shared Go types used by both the agent and server.
// These are the canonical in-memory representations of cook sessions, probe
// readings, and alert events, separate from any wire or storage format.
package types

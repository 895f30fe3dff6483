// Package store is the durable keyed store backing the session tracker and
// alert engine. It persists sessions, probe assignments, readings, dedup gate
// directions, and alert history in SQLite, and expresses the conditional
// write semantics (first-writer-wins started_at, monotonic-max last_seen_at,
// create-if-absent backfill) the concurrent upsert paths rely on.
package store

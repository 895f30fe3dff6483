// Package notify delivers alert messages to operators. Targets are
// configured declaratively (SMS gateway, generic webhook) with URLs and
// credentials resolved from the environment; delivery guarantees are the
// target's problem, not the caller's.
package notify

package types

import "encoding/json"

// Session status values. A session starts as unknown, becomes active once
// telemetry arrives within the gap window, degrades to stale on silence, and
// is ended only by the timeout sweep. Ended is terminal.
const (
	StatusUnknown = "unknown"
	StatusActive  = "active"
	StatusStale   = "stale"
	StatusEnded   = "ended"
)

// Alert directions for the dedup gate and alert events.
const (
	DirectionNone  = "none"
	DirectionBelow = "below"
	DirectionAbove = "above"
)

// Session is one bounded cook episode, identified by an opaque (often
// time-derived) id and tracked purely from telemetry arrival.
type Session struct {
	SessionID string `json:"session_id"`

	// StartedAt is the epoch the cook began. Set once, never overwritten.
	// Zero means no parseable start has been established yet.
	StartedAt int64 `json:"started_at"`

	// LastSeenAt is the epoch of the newest event observed for this session.
	// It only ever increases, regardless of arrival order.
	LastSeenAt int64 `json:"last_seen_at"`

	// SeenCount is the number of telemetry events observed.
	SeenCount int64 `json:"seen_count"`

	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	EndedAt   int64  `json:"ended_at,omitempty"`
}

// Assignment binds a physical probe to a food item and alert thresholds for
// one session. Thresholds are pointers: nil means "no bound on this side".
type Assignment struct {
	SessionID  string   `json:"session_id"`
	ProbeID    string   `json:"probe_id"`
	ItemType   string   `json:"item_type,omitempty"`
	ItemWeight *float64 `json:"item_weight,omitempty"`
	MinAlert   *float64 `json:"min_alert,omitempty"`
	MaxAlert   *float64 `json:"max_alert,omitempty"`
	Recipient  string   `json:"recipient,omitempty"`
}

// ItemType is one entry in the reference catalog of smokable items. The
// dashboard offers these as assignment choices; Name is what an Assignment's
// ItemType field records.
type ItemType struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Reading is a single timestamped telemetry snapshot. Probes maps a probe or
// sensor identifier to its raw JSON value — a bare number or a {value: n}
// object, depending on the sender.
type Reading struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id"`

	// Timestamp is the raw timestamp as sent: epoch number, epoch string,
	// HHMMSS, or RFC3339. Normalization happens server-side.
	Timestamp json.RawMessage `json:"timestamp"`

	// Epoch is the normalized timestamp; zero when unparseable.
	Epoch int64 `json:"epoch,omitempty"`

	Probes map[string]json.RawMessage `json:"probes"`
}

// AlertEvent is one threshold excursion produced by the evaluator. It is
// transient: the dedup gate decides whether it reaches the notifier.
type AlertEvent struct {
	ID        string  `json:"id"`
	SessionID string  `json:"session_id"`
	ProbeID   string  `json:"probe_id"`
	Direction string  `json:"direction"` // below | above
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Recipient string  `json:"recipient,omitempty"`
	FiredAt   int64   `json:"fired_at"`
	Message   string  `json:"message"`
}

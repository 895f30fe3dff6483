package alerts

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pitwatch/pitwatch/pkg/types"
)

// Event is one threshold excursion candidate: the reading for this probe
// crossed one of its configured bounds. Whether it reaches the notifier is
// the gate's decision, not the evaluator's.
type Event struct {
	SessionID string
	ProbeID   string
	Direction string // below | above
	Value     float64
	Threshold float64
	Recipient string
}

// Message renders the notification text for the excursion.
func (e Event) Message() string {
	if e.Direction == types.DirectionBelow {
		return fmt.Sprintf("Alert for Probe %s: Temperature %g is below the minimum threshold of %g.",
			e.ProbeID, e.Value, e.Threshold)
	}
	return fmt.Sprintf("Alert for Probe %s: Temperature %g exceeds the maximum threshold of %g.",
		e.ProbeID, e.Value, e.Threshold)
}

// Evaluate compares one reading against the session's probe assignments and
// returns at most one Event per assigned probe.
//
// Rules:
//   - a probe absent from the reading, or carrying a non-numeric value, is
//     skipped silently
//   - bounds are exclusive: only strictly below min or strictly above max
//     triggers; a value equal to a bound does not alert
//   - min is checked before max, so under a min>max misconfiguration the
//     below-min event wins
//
// Evaluate is pure: no I/O, no side effects, deterministic for its inputs.
func Evaluate(reading *types.Reading, assignments []*types.Assignment) []Event {
	var out []Event
	for _, a := range assignments {
		raw, ok := reading.Probes[a.ProbeID]
		if !ok {
			continue
		}
		value, ok := numericValue(raw)
		if !ok {
			continue
		}

		switch {
		case a.MinAlert != nil && value < *a.MinAlert:
			out = append(out, Event{
				SessionID: reading.SessionID,
				ProbeID:   a.ProbeID,
				Direction: types.DirectionBelow,
				Value:     value,
				Threshold: *a.MinAlert,
				Recipient: a.Recipient,
			})
		case a.MaxAlert != nil && value > *a.MaxAlert:
			out = append(out, Event{
				SessionID: reading.SessionID,
				ProbeID:   a.ProbeID,
				Direction: types.DirectionAbove,
				Value:     value,
				Threshold: *a.MaxAlert,
				Recipient: a.Recipient,
			})
		}
	}
	return out
}

// numericValue extracts a probe value from its raw JSON form: either a bare
// number ("145"), a numeric string ("\"145\""), or an object with a value
// field ({"value": 145}).
func numericValue(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}

	var obj struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != nil {
		return *obj.Value, true
	}
	return 0, false
}

package clock

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// sessionIDLayout is the 14-digit YYYYMMDDHHMMSS encoding used by
// time-derived session identifiers. Interpreted as UTC.
const sessionIDLayout = "20060102150405"

// ParseEpoch converts a raw timestamp value into a Unix epoch.
//
// Accepted encodings:
//   - int64 / float64 epochs (and json.Number)
//   - numeric strings ("1726315200")
//   - 6-digit HHMMSS strings, resolved against now's date. This same-day
//     heuristic is lossy across midnight boundaries: a reading stamped
//     23:59:58 that arrives at 00:00:02 resolves a day late.
//   - 14-digit YYYYMMDDHHMMSS strings
//   - RFC3339 / ISO8601 strings
//
// Returns (0, false) when no encoding matches. Callers must treat a false
// result as "liveness unprovable", never substitute a fabricated time.
func ParseEpoch(v any, now time.Time) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		return ParseEpoch(t.String(), now)
	case string:
		return parseEpochString(t, now)
	case json.RawMessage:
		return ParseRawEpoch(t, now)
	}
	return 0, false
}

// ParseRawEpoch decodes a raw JSON timestamp value (number or string) and
// normalizes it with ParseEpoch.
func ParseRawEpoch(raw json.RawMessage, now time.Time) (int64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false
		}
		return parseEpochString(str, now)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return int64(n), true
}

func parseEpochString(s string, now time.Time) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if isDigits(s) {
		switch len(s) {
		case 6:
			// HHMMSS — same-day heuristic against now's date.
			h, _ := strconv.Atoi(s[0:2])
			m, _ := strconv.Atoi(s[2:4])
			sec, _ := strconv.Atoi(s[4:6])
			if h > 23 || m > 59 || sec > 59 {
				return 0, false
			}
			y, mo, d := now.Date()
			return time.Date(y, mo, d, h, m, sec, 0, now.Location()).Unix(), true
		case 14:
			t, err := time.ParseInLocation(sessionIDLayout, s, time.UTC)
			if err != nil {
				return 0, false
			}
			return t.Unix(), true
		default:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), true
	}
	// ISO8601 without zone — assume UTC.
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return t.Unix(), true
	}
	return 0, false
}

// EpochFromSessionID decodes the creation time embedded in a session
// identifier's 14-digit YYYYMMDDHHMMSS prefix. ok is false for opaque
// identifiers.
func EpochFromSessionID(id string) (int64, bool) {
	if len(id) >= 14 && isDigits(id[:14]) {
		if t, err := time.ParseInLocation(sessionIDLayout, id[:14], time.UTC); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// StartFromSessionID derives the canonical started_at for a session whose
// identifier embeds its creation time. Identifiers without a parseable
// prefix fall back to now — the time of the first observed event.
func StartFromSessionID(id string, now time.Time) int64 {
	if epoch, ok := EpochFromSessionID(id); ok {
		return epoch
	}
	return now.Unix()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package api

import "github.com/pitwatch/pitwatch/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	SessionCount int    `json:"session_count"`
	ActiveCount  int    `json:"active_count"`
	StaleCount   int    `json:"stale_count"`
	EndedCount   int    `json:"ended_count"`
	UnknownCount int    `json:"unknown_count"`
}

// AssignmentRequest is the payload for POST /api/v1/assignments. All fields
// except the keys are optional; absent fields leave the stored value alone,
// so the UI can save a phone number without resending thresholds.
type AssignmentRequest struct {
	SessionID  string   `json:"session_id"`
	ProbeID    string   `json:"probe_id"`
	ItemType   *string  `json:"item_type,omitempty"`
	ItemWeight *float64 `json:"item_weight,omitempty"`
	MinAlert   *float64 `json:"min_alert,omitempty"`
	MaxAlert   *float64 `json:"max_alert,omitempty"`
	Recipient  *string  `json:"recipient,omitempty"`
}

// AdviceRequest is the payload for POST /api/v1/advice.
type AdviceRequest struct {
	SessionID string `json:"session_id"`
	ProbeID   string `json:"probe_id"`
}

// AssignmentsResponse wraps GET /api/v1/assignments.
type AssignmentsResponse struct {
	SessionID   string              `json:"session_id"`
	Assignments []*types.Assignment `json:"assignments"`
}

// ReadingsResponse wraps GET /api/v1/readings.
type ReadingsResponse struct {
	SessionID string           `json:"session_id"`
	Readings  []*types.Reading `json:"readings"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/alerts"
	"github.com/pitwatch/pitwatch/server/internal/clock"
	"github.com/pitwatch/pitwatch/server/internal/metrics"
	"github.com/pitwatch/pitwatch/server/internal/session"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

// maxBodyBytes caps the ingest payload; one controller snapshot is tiny.
const maxBodyBytes = 64 << 10

// Handler accepts telemetry readings over HTTP, normalizes them and drives
// the session tracker and the alert engine.
type Handler struct {
	store   *store.Store
	tracker *session.Tracker
	engine  *alerts.Engine
	now     func() time.Time

	// onReading, when set, receives every accepted reading. Used to push
	// samples onto the live stream.
	onReading func(*types.Reading)
}

// New creates an ingest Handler.
func New(st *store.Store, tr *session.Tracker, en *alerts.Engine) *Handler {
	return &Handler{store: st, tracker: tr, engine: en, now: time.Now}
}

// OnReading registers a hook called for every accepted reading.
func (h *Handler) OnReading(fn func(*types.Reading)) { h.onReading = fn }

// ServeHTTP handles POST /api/v1/ingest.
//
// The payload is the controller's flat JSON form: session_id and timestamp
// are reserved keys, every other key is a probe or sensor reading. The
// timestamp may be an epoch number, an epoch string, a bare HHMMSS clock
// reading or an ISO 8601 string; an unparseable timestamp does not reject
// the reading — it is stored unnormalized and liveness falls back to the
// arrival clock.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var raw map[string]json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		metrics.ReadingsRejected.WithLabelValues("bad_json").Inc()
		jsonErr(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	reading, reason := h.decode(raw)
	if reason != "" {
		metrics.ReadingsRejected.WithLabelValues(reason).Inc()
		jsonErr(w, http.StatusBadRequest, reason)
		return
	}

	ctx := r.Context()
	now := h.now()

	if err := h.store.InsertReading(ctx, reading, now.Unix()); err != nil {
		slog.Error("ingest: persist reading failed", "session_id", reading.SessionID, "err", err)
		jsonErr(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if err := h.tracker.ObserveEvent(ctx, reading.SessionID, reading.Epoch); err != nil {
		slog.Error("ingest: session update failed", "session_id", reading.SessionID, "err", err)
		jsonErr(w, http.StatusInternalServerError, "session update failure")
		return
	}

	// Alert evaluation failures must not bounce the reading — it is already
	// persisted and the session advanced.
	if err := h.engine.Process(ctx, reading); err != nil {
		slog.Error("ingest: alert evaluation failed", "session_id", reading.SessionID, "err", err)
	}

	metrics.ReadingsIngested.WithLabelValues(sourceLabel(r)).Inc()
	if h.onReading != nil {
		h.onReading(reading)
	}
	jsonResp(w, http.StatusAccepted, map[string]string{"id": reading.ID, "status": "accepted"})
}

// decode splits the flat payload into the Reading shape. Returns a rejection
// reason label on validation failure.
func (h *Handler) decode(raw map[string]json.RawMessage) (*types.Reading, string) {
	reading := &types.Reading{
		ID:     uuid.NewString(),
		Probes: make(map[string]json.RawMessage),
	}

	for k, v := range raw {
		switch k {
		case "session_id":
			if err := json.Unmarshal(v, &reading.SessionID); err != nil {
				return nil, "missing_session"
			}
		case "timestamp":
			reading.Timestamp = v
		case "id":
			// Sender-assigned ids are ignored; the server names readings.
		default:
			reading.Probes[k] = v
		}
	}

	if reading.SessionID == "" {
		return nil, "missing_session"
	}
	if len(reading.Probes) == 0 {
		return nil, "no_probes"
	}

	if len(reading.Timestamp) > 0 {
		epoch, ok := clock.ParseRawEpoch(reading.Timestamp, h.now())
		if !ok {
			metrics.TimestampsUnparseable.Inc()
			slog.Warn("ingest: unparseable timestamp",
				"session_id", reading.SessionID, "timestamp", string(reading.Timestamp))
		} else {
			reading.Epoch = epoch
		}
	}
	return reading, ""
}

// sourceLabel distinguishes agent-shipped readings from ad-hoc HTTP posts.
func sourceLabel(r *http.Request) string {
	if r.Header.Get("X-Pitwatch-Agent") != "" {
		return "agent"
	}
	return "http"
}

// SetNow overrides the handler's clock. Test hook.
func (h *Handler) SetNow(now func() time.Time) { h.now = now }

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, map[string]string{"error": msg})
}

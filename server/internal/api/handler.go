package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/advisor"
	"github.com/pitwatch/pitwatch/server/internal/session"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

// defaultListLimit bounds history queries when the caller gives no limit.
const defaultListLimit = 50

// Handler is the HTTP handler for all read/manage /api/v1/* endpoints.
// Ingest and the WebSocket feed are mounted separately.
type Handler struct {
	store   *store.Store
	tracker *session.Tracker
	advisor *advisor.Advisor // nil when the advisor is disabled
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes. adv may be nil.
func New(st *store.Store, tr *session.Tracker, adv *advisor.Advisor) http.Handler {
	h := &Handler{store: st, tracker: tr, advisor: adv, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/sessions", h.listSessions)
	h.mux.HandleFunc("/api/v1/sessions/", h.getSession) // subtree — "latest" or {id}
	h.mux.HandleFunc("/api/v1/assignments", h.assignments)
	h.mux.HandleFunc("/api/v1/item-types", h.itemTypes)
	h.mux.HandleFunc("/api/v1/readings", h.readings)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/advice", h.advice)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — session counts by status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "storage failure")
		return
	}

	resp := HealthResponse{Status: "ok", SessionCount: len(sessions)}
	for _, s := range sessions {
		switch s.Status {
		case types.StatusActive:
			resp.ActiveCount++
		case types.StatusStale:
			resp.StaleCount++
		case types.StatusEnded:
			resp.EndedCount++
		default:
			resp.UnknownCount++
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listSessions returns GET /api/v1/sessions — all known sessions, newest first.
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "storage failure")
		return
	}
	jsonResp(w, http.StatusOK, sessions)
}

// getSession returns GET /api/v1/sessions/latest — the current session with
// computed liveness — or GET /api/v1/sessions/{id} — one raw session record.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	if id == "" {
		h.listSessions(w, r)
		return
	}

	if id == "latest" {
		latest, err := h.tracker.Latest(r.Context())
		if errors.Is(err, store.ErrNotFound) {
			jsonErr(w, http.StatusNotFound, "no sessions recorded")
			return
		}
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "storage failure")
			return
		}
		jsonResp(w, http.StatusOK, latest)
		return
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "storage failure")
		return
	}
	jsonResp(w, http.StatusOK, sess)
}

// assignments handles GET and POST /api/v1/assignments.
func (h *Handler) assignments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sid := r.URL.Query().Get("session_id")
		if sid == "" {
			jsonErr(w, http.StatusBadRequest, "session_id query parameter required")
			return
		}
		list, err := h.store.ListAssignments(r.Context(), sid)
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "storage failure")
			return
		}
		jsonResp(w, http.StatusOK, AssignmentsResponse{SessionID: sid, Assignments: list})

	case http.MethodPost:
		var req AssignmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if req.SessionID == "" || req.ProbeID == "" {
			jsonErr(w, http.StatusBadRequest, "session_id and probe_id required")
			return
		}

		err := h.store.UpsertAssignment(r.Context(), store.AssignmentPatch{
			SessionID:  req.SessionID,
			ProbeID:    req.ProbeID,
			ItemType:   req.ItemType,
			ItemWeight: req.ItemWeight,
			MinAlert:   req.MinAlert,
			MaxAlert:   req.MaxAlert,
			Recipient:  req.Recipient,
		})
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "storage failure")
			return
		}
		jsonResp(w, http.StatusOK, map[string]string{"status": "saved"})

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// itemTypes serves the reference catalog behind the dashboard's item
// dropdown: GET lists it, POST adds or updates one entry.
func (h *Handler) itemTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.store.ListItemTypes(r.Context())
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "storage failure")
			return
		}
		jsonResp(w, http.StatusOK, list)

	case http.MethodPost:
		var it types.ItemType
		if err := json.NewDecoder(r.Body).Decode(&it); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if it.Name == "" {
			jsonErr(w, http.StatusBadRequest, "name required")
			return
		}
		if err := h.store.UpsertItemType(r.Context(), it); err != nil {
			jsonErr(w, http.StatusInternalServerError, "storage failure")
			return
		}
		jsonResp(w, http.StatusOK, map[string]string{"status": "saved"})

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// readings returns GET /api/v1/readings?session_id=&limit= — recent samples,
// newest first.
func (h *Handler) readings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sid := r.URL.Query().Get("session_id")
	if sid == "" {
		jsonErr(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}

	list, err := h.store.RecentReadings(r.Context(), sid, queryLimit(r))
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "storage failure")
		return
	}
	jsonResp(w, http.StatusOK, ReadingsResponse{SessionID: sid, Readings: list})
}

// alerts returns GET /api/v1/alerts?limit= — recent fired alerts, newest first.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	list, err := h.store.RecentAlerts(r.Context(), queryLimit(r))
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "storage failure")
		return
	}
	jsonResp(w, http.StatusOK, list)
}

// advice handles POST /api/v1/advice — LLM cooking tips for one probe.
func (h *Handler) advice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.advisor == nil {
		jsonErr(w, http.StatusNotImplemented, "advisor is not enabled")
		return
	}

	var req AdviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.SessionID == "" || req.ProbeID == "" {
		jsonErr(w, http.StatusBadRequest, "session_id and probe_id required")
		return
	}

	out, err := h.advisor.Advise(r.Context(), req.SessionID, req.ProbeID)
	if err != nil {
		jsonErr(w, http.StatusBadGateway, "advice backend failure")
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// queryLimit parses the limit query parameter, falling back to the default
// for absent or nonsense values.
func queryLimit(r *http.Request) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/metrics"
	"github.com/pitwatch/pitwatch/server/internal/notify"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

// Engine wires the evaluator, the dedup gate and the notifier together. One
// Engine serves the whole process; Process is safe for concurrent readings.
type Engine struct {
	store    *store.Store
	gate     *Gate
	notifier notify.Notifier
	now      func() time.Time

	// onAlert, when set, is invoked for every emitted alert after it has
	// been persisted. Used to push alerts onto the live stream.
	onAlert func(*types.AlertEvent)
}

// NewEngine creates an Engine. notifier may be a no-op fanout but not nil.
func NewEngine(st *store.Store, gate *Gate, notifier notify.Notifier) *Engine {
	return &Engine{
		store:    st,
		gate:     gate,
		notifier: notifier,
		now:      time.Now,
	}
}

// OnAlert registers a hook called for every emitted alert.
func (e *Engine) OnAlert(fn func(*types.AlertEvent)) { e.onAlert = fn }

// Process evaluates one reading against the session's probe assignments and
// dispatches whatever the gate admits. A session with no assignments is a
// no-op. Delivery failures are logged but do not fail Process — the alert is
// already persisted, and the next transition will try again.
func (e *Engine) Process(ctx context.Context, reading *types.Reading) error {
	assignments, err := e.store.ListAssignments(ctx, reading.SessionID)
	if err != nil {
		return fmt.Errorf("engine: list assignments: %w", err)
	}
	if len(assignments) == 0 {
		return nil
	}

	excursions := Evaluate(reading, assignments)
	byProbe := make(map[string]Event, len(excursions))
	for _, ev := range excursions {
		byProbe[ev.ProbeID] = ev
	}

	now := e.now().Unix()
	for _, a := range assignments {
		raw, ok := reading.Probes[a.ProbeID]
		if !ok {
			continue
		}
		if _, ok := numericValue(raw); !ok {
			continue
		}

		// In-bounds readings pass direction none through the gate so a
		// recovered probe re-arms for the next excursion.
		direction := types.DirectionNone
		ev, excursion := byProbe[a.ProbeID]
		if excursion {
			direction = ev.Direction
		}

		emit, err := e.gate.Admit(ctx, reading.SessionID, a.ProbeID, direction, now)
		if err != nil {
			return err
		}
		if !emit {
			if excursion {
				metrics.AlertsSuppressed.Inc()
			}
			continue
		}

		alert := &types.AlertEvent{
			ID:        uuid.NewString(),
			SessionID: ev.SessionID,
			ProbeID:   ev.ProbeID,
			Direction: ev.Direction,
			Value:     ev.Value,
			Threshold: ev.Threshold,
			Recipient: ev.Recipient,
			FiredAt:   now,
			Message:   ev.Message(),
		}
		if err := e.store.InsertAlert(ctx, alert); err != nil {
			return fmt.Errorf("engine: persist alert: %w", err)
		}
		metrics.AlertsFired.WithLabelValues(alert.Direction).Inc()
		slog.Info("engine: alert fired",
			"session_id", alert.SessionID,
			"probe", alert.ProbeID,
			"direction", alert.Direction,
			"value", alert.Value,
			"threshold", alert.Threshold,
		)

		if err := e.notifier.Send(ctx, alert); err != nil {
			slog.Error("engine: notify failed", "probe", alert.ProbeID, "err", err)
		}
		if e.onAlert != nil {
			e.onAlert(alert)
		}
	}
	return nil
}

// SetNow overrides the engine's clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

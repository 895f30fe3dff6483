package alerts

import (
	"context"
	"fmt"
	"sync"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

// Gate is the notification dedup gate. It remembers, per (session_id,
// probe_id), the direction of the last alert sent and admits a candidate
// only on a transition into a new direction. An in-bounds reading re-arms
// the probe by resetting its direction to none.
//
// Directions are persisted in the durable store so a sustained excursion
// does not re-alert across process restarts or separate batch runs; the
// in-memory map is only a write-through cache.
type Gate struct {
	store *store.Store

	mu    sync.Mutex
	cache map[string]string
}

// NewGate creates a Gate backed by st.
func NewGate(st *store.Store) *Gate {
	return &Gate{store: st, cache: make(map[string]string)}
}

// Admit decides whether an alert in direction should be emitted for the
// probe, and records the new direction. Passing DirectionNone re-arms the
// gate (an in-bounds reading) and never emits.
//
// Transitions that emit: none→below, none→above, below→above, above→below.
// A repeat of the current direction is suppressed.
func (g *Gate) Admit(ctx context.Context, sessionID, probeID, direction string, now int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := sessionID + "\x00" + probeID
	current, ok := g.cache[key]
	if !ok {
		var err error
		current, err = g.store.GateDirection(ctx, sessionID, probeID)
		if err != nil {
			return false, fmt.Errorf("gate: load %s/%s: %w", sessionID, probeID, err)
		}
	}

	if direction == current {
		return false, nil
	}

	if err := g.store.SetGateDirection(ctx, sessionID, probeID, direction, now); err != nil {
		return false, fmt.Errorf("gate: persist %s/%s: %w", sessionID, probeID, err)
	}
	g.cache[key] = direction

	return direction != types.DirectionNone, nil
}

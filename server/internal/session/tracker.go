package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/clock"
	"github.com/pitwatch/pitwatch/server/internal/metrics"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

// Defaults for the liveness windows. Both are operator-configurable; the
// ended timeout must stay well above the gap window since it is terminal.
const (
	DefaultGapWindow    = 1800 * time.Second
	DefaultEndedTimeout = 2700 * time.Second
)

// LatestStatus is the answer to the "current session" query.
type LatestStatus struct {
	SessionID    string `json:"session_id"`
	StartedAt    int64  `json:"started_at,omitempty"`
	Status       string `json:"status"`
	LastSampleTS int64  `json:"last_sample_ts,omitempty"`
	AgeSecs      int64  `json:"age_secs"`
	GapSecs      int64  `json:"gap_secs"`

	// HasSample is false when the session has no parseable reading
	// timestamp; AgeSecs is meaningless in that case and status is stale.
	HasSample bool `json:"-"`
}

// Tracker maintains session lifecycle records on top of the durable store.
// It holds no session state of its own — concurrent upserts are resolved by
// the store's conditional writes, so Tracker methods may be called from any
// number of goroutines.
type Tracker struct {
	store *store.Store
	now   func() time.Time // injectable for deterministic tests

	mu           sync.RWMutex
	gapWindow    time.Duration
	endedTimeout time.Duration
}

// NewTracker creates a Tracker over st with the given liveness windows.
// Non-positive durations fall back to the defaults.
func NewTracker(st *store.Store, gapWindow, endedTimeout time.Duration) *Tracker {
	if gapWindow <= 0 {
		gapWindow = DefaultGapWindow
	}
	if endedTimeout <= 0 {
		endedTimeout = DefaultEndedTimeout
	}
	return &Tracker{
		store:        st,
		now:          time.Now,
		gapWindow:    gapWindow,
		endedTimeout: endedTimeout,
	}
}

// SetWindows replaces the liveness windows. Called from the config
// hot-reload path; takes effect on the next sweep.
func (t *Tracker) SetWindows(gapWindow, endedTimeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gapWindow > 0 {
		t.gapWindow = gapWindow
	}
	if endedTimeout > 0 {
		t.endedTimeout = endedTimeout
	}
}

// GapWindow returns the currently configured gap window.
func (t *Tracker) GapWindow() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gapWindow
}

func (t *Tracker) endedTimeoutNow() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endedTimeout
}

// ObserveEvent records one telemetry event for sid. Idempotent and safe
// under out-of-order delivery: started_at is first-writer-wins (the id's
// embedded creation time when present, else the event timestamp, else the
// wall clock), last_seen_at advances monotonically, and an ended session is
// never resurrected.
//
// eventEpoch 0 means the event carried no parseable timestamp; the record's
// heartbeat still advances using the wall clock so the session is not lost.
func (t *Tracker) ObserveEvent(ctx context.Context, sid string, eventEpoch int64) error {
	if sid == "" {
		return fmt.Errorf("tracker: empty session id")
	}
	now := t.now()

	start := t.deriveStart(sid, eventEpoch, now)
	seen := eventEpoch
	if seen == 0 {
		seen = now.Unix()
	}

	if err := t.store.UpsertSessionOnEvent(ctx, sid, start, seen, now.Unix()); err != nil {
		return fmt.Errorf("tracker: observe %q: %w", sid, err)
	}
	return nil
}

// deriveStart picks the started_at candidate for a first write: the
// session-id-embedded time when the identifier encodes one, otherwise the
// event's own timestamp, otherwise the time of first observation.
func (t *Tracker) deriveStart(sid string, eventEpoch int64, now time.Time) int64 {
	if s, ok := clock.EpochFromSessionID(sid); ok {
		return s
	}
	if eventEpoch != 0 {
		return eventEpoch
	}
	return now.Unix()
}

// Sweep recomputes liveness for every known session. For each session the
// age is measured from its newest parseable reading timestamp:
//
//	age ≤ gap window    → active
//	age > gap window    → stale
//	age > ended timeout → ended (terminal; ended_at stamped)
//
// A session with no parseable reading timestamp falls back to the upsert
// heartbeat (last_seen_at, which ingestion advances on the arrival clock when
// a timestamp cannot be normalized), so a cook whose controller sends garbage
// timestamps still ages out instead of sticking. Only a session with neither
// a parseable reading nor a heartbeat is pinned stale — its liveness cannot
// be proven at all. Sweep is safe to run concurrently with live ingestion.
func (t *Tracker) Sweep(ctx context.Context) error {
	now := t.now()
	gap := t.GapWindow()
	timeout := t.endedTimeoutNow()

	sessions, err := t.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("tracker: sweep: %w", err)
	}

	for _, sess := range sessions {
		if sess.Status == types.StatusEnded {
			continue
		}

		last, ok, err := t.store.LastReadingEpoch(ctx, sess.SessionID)
		if err != nil {
			slog.Warn("tracker: sweep skipping session", "session_id", sess.SessionID, "err", err)
			continue
		}
		if !ok {
			// Fall back to the upsert heartbeat before declaring stale.
			if sess.LastSeenAt > 0 {
				last = sess.LastSeenAt
			} else {
				t.setStatus(ctx, sess, types.StatusStale)
				continue
			}
		}

		age := now.Unix() - last
		switch {
		case age > int64(timeout.Seconds()):
			if err := t.store.EndSession(ctx, sess.SessionID, now.Unix()); err != nil {
				slog.Error("tracker: end session failed", "session_id", sess.SessionID, "err", err)
				continue
			}
			if sess.Status != types.StatusEnded {
				metrics.SweepTransitions.WithLabelValues(types.StatusEnded).Inc()
				slog.Info("tracker: session ended",
					"session_id", sess.SessionID, "age_secs", age)
			}
		case age > int64(gap.Seconds()):
			t.setStatus(ctx, sess, types.StatusStale)
		default:
			t.setStatus(ctx, sess, types.StatusActive)
		}
	}
	return nil
}

func (t *Tracker) setStatus(ctx context.Context, sess *types.Session, status string) {
	if sess.Status == status {
		return
	}
	if err := t.store.SetSessionStatus(ctx, sess.SessionID, status); err != nil {
		slog.Error("tracker: status update failed",
			"session_id", sess.SessionID, "status", status, "err", err)
		return
	}
	metrics.SweepTransitions.WithLabelValues(status).Inc()
	slog.Info("tracker: session status changed",
		"session_id", sess.SessionID, "from", sess.Status, "to", status)
}

// RunSweeper runs Sweep every interval until ctx is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Sweep(ctx); err != nil {
				slog.Error("tracker: sweep failed", "err", err)
			}
		}
	}
}

// Latest answers the "current session" query: the most recently started
// session (tie-break started_at, then created_at) with its liveness judged
// against the gap window at call time. Returns store.ErrNotFound when no
// sessions exist.
func (t *Tracker) Latest(ctx context.Context) (*LatestStatus, error) {
	sess, err := t.store.LatestSession(ctx)
	if err != nil {
		return nil, err
	}

	now := t.now()
	gap := t.GapWindow()

	out := &LatestStatus{
		SessionID: sess.SessionID,
		StartedAt: sess.StartedAt,
		GapSecs:   int64(gap.Seconds()),
		Status:    types.StatusStale,
	}

	last, ok, err := t.store.LastReadingEpoch(ctx, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("tracker: latest: %w", err)
	}
	if !ok {
		// Liveness unprovable without a parseable sample timestamp.
		return out, nil
	}

	out.HasSample = true
	out.LastSampleTS = last
	age := now.Unix() - last
	if age < 0 {
		age = 0
	}
	out.AgeSecs = age
	if age <= out.GapSecs {
		out.Status = types.StatusActive
	}
	return out, nil
}

// Backfill ensures a session record exists for every distinct session id in
// the telemetry history. Records are created with status unknown and a
// started_at derived from the identifier; existing records are never
// touched. Safe to run repeatedly and concurrently with live ingestion.
// Returns the number of records created.
func (t *Tracker) Backfill(ctx context.Context) (int, error) {
	ids, err := t.store.DistinctSessionIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("tracker: backfill: %w", err)
	}

	now := t.now()
	created := 0
	for _, sid := range ids {
		ok, err := t.store.CreateSessionIfAbsent(ctx, sid, clock.StartFromSessionID(sid, now), now.Unix())
		if err != nil {
			return created, fmt.Errorf("tracker: backfill %q: %w", sid, err)
		}
		if ok {
			created++
		}
	}
	slog.Info("tracker: backfill complete", "scanned", len(ids), "created", created)
	return created, nil
}

// SetNow overrides the tracker's clock. Test hook.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }

package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func newTracker(t *testing.T, now time.Time) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tr := NewTracker(st, 1800*time.Second, 2700*time.Second)
	tr.SetNow(func() time.Time { return now })
	return tr, st
}

func insertReading(t *testing.T, st *store.Store, sid string, epoch int64) {
	t.Helper()
	r := &types.Reading{
		ID:        sid + "-" + time.Unix(epoch, 0).UTC().Format("150405"),
		SessionID: sid,
		Timestamp: json.RawMessage(`0`),
		Epoch:     epoch,
		Probes:    map[string]json.RawMessage{"probe_1": json.RawMessage(`145`)},
	}
	if err := st.InsertReading(context.Background(), r, epoch); err != nil {
		t.Fatalf("insert reading: %v", err)
	}
}

// --- ObserveEvent -----------------------------------------------------------

func TestObserveEvent_StartFromEncodedID(t *testing.T) {
	now := time.Date(2025, 9, 14, 14, 0, 0, 0, time.UTC)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	// 2025-09-14 12:00:00 UTC encoded in the id; event timestamp differs.
	if err := tr.ObserveEvent(ctx, "20250914120000", now.Unix()); err != nil {
		t.Fatalf("observe: %v", err)
	}
	sess, err := st.GetSession(ctx, "20250914120000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := time.Date(2025, 9, 14, 12, 0, 0, 0, time.UTC).Unix()
	if sess.StartedAt != want {
		t.Errorf("started_at: got %d, want %d", sess.StartedAt, want)
	}
	if sess.Status != types.StatusActive {
		t.Errorf("status: got %q, want active", sess.Status)
	}
}

func TestObserveEvent_StartFromFirstEvent(t *testing.T) {
	now := time.Date(2025, 9, 14, 14, 0, 0, 0, time.UTC)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	// Opaque id — the first event's timestamp becomes started_at.
	if err := tr.ObserveEvent(ctx, "brisket-run", 1726315200); err != nil {
		t.Fatalf("observe: %v", err)
	}
	sess, _ := st.GetSession(ctx, "brisket-run")
	if sess.StartedAt != 1726315200 {
		t.Errorf("started_at: got %d, want 1726315200", sess.StartedAt)
	}
}

func TestObserveEvent_OrderIndependence(t *testing.T) {
	now := time.Date(2025, 9, 14, 14, 0, 0, 0, time.UTC)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	// Events delivered out of order; started_at set once, last_seen = max.
	for _, e := range []int64{1726315300, 1726315100, 1726315200} {
		if err := tr.ObserveEvent(ctx, "brisket-run", e); err != nil {
			t.Fatalf("observe(%d): %v", e, err)
		}
	}
	sess, _ := st.GetSession(ctx, "brisket-run")
	if sess.StartedAt != 1726315300 {
		// First-writer-wins: the first *arriving* event's timestamp sticks.
		t.Errorf("started_at: got %d, want 1726315300", sess.StartedAt)
	}
	if sess.LastSeenAt != 1726315300 {
		t.Errorf("last_seen_at: got %d, want 1726315300", sess.LastSeenAt)
	}
	if sess.SeenCount != 3 {
		t.Errorf("seen_count: got %d, want 3", sess.SeenCount)
	}
}

func TestObserveEvent_EmptySessionID(t *testing.T) {
	tr, _ := newTracker(t, time.Now())
	if err := tr.ObserveEvent(context.Background(), "", 100); err == nil {
		t.Error("expected error for empty session id")
	}
}

// --- Sweep ------------------------------------------------------------------

func TestSweep_ActiveWithinGapWindow(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	tr.ObserveEvent(ctx, "cook1", now.Unix()-1700) //nolint:errcheck
	insertReading(t, st, "cook1", now.Unix()-1700)

	if err := tr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sess, _ := st.GetSession(ctx, "cook1")
	if sess.Status != types.StatusActive {
		t.Errorf("status: got %q, want active", sess.Status)
	}
}

func TestSweep_StaleBeyondGapWindow(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	tr.ObserveEvent(ctx, "cook1", now.Unix()-1900) //nolint:errcheck
	insertReading(t, st, "cook1", now.Unix()-1900)

	if err := tr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sess, _ := st.GetSession(ctx, "cook1")
	if sess.Status != types.StatusStale {
		t.Errorf("status: got %q, want stale", sess.Status)
	}
}

func TestSweep_EndedBeyondTimeout(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	tr.ObserveEvent(ctx, "cook1", now.Unix()-3000) //nolint:errcheck
	insertReading(t, st, "cook1", now.Unix()-3000)

	if err := tr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sess, _ := st.GetSession(ctx, "cook1")
	if sess.Status != types.StatusEnded {
		t.Errorf("status: got %q, want ended", sess.Status)
	}
	if sess.EndedAt != now.Unix() {
		t.Errorf("ended_at: got %d, want %d", sess.EndedAt, now.Unix())
	}

	// Stale can re-enter active; ended cannot.
	insertReading(t, st, "cook1", now.Unix())
	if err := tr.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	sess, _ = st.GetSession(ctx, "cook1")
	if sess.Status != types.StatusEnded {
		t.Errorf("ended session resurrected: status %q", sess.Status)
	}
}

func TestSweep_StaleCanReenterActive(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	tr.ObserveEvent(ctx, "cook1", now.Unix()-2000) //nolint:errcheck
	insertReading(t, st, "cook1", now.Unix()-2000)
	tr.Sweep(ctx) //nolint:errcheck
	if sess, _ := st.GetSession(ctx, "cook1"); sess.Status != types.StatusStale {
		t.Fatalf("precondition: status %q, want stale", sess.Status)
	}

	// Fresh telemetry arrives — next sweep goes back to active.
	insertReading(t, st, "cook1", now.Unix()-10)
	tr.Sweep(ctx) //nolint:errcheck
	if sess, _ := st.GetSession(ctx, "cook1"); sess.Status != types.StatusActive {
		t.Errorf("status: got %q, want active", sess.Status)
	}
}

func TestSweep_HeartbeatFallbackForUnparseableTimestamps(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	// The controller sends garbage timestamps: readings land with epoch 0 and
	// the heartbeat advances on the arrival clock instead.
	tr.ObserveEvent(ctx, "cook1", 0) //nolint:errcheck
	insertReading(t, st, "cook1", 0)

	if err := tr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sess, _ := st.GetSession(ctx, "cook1")
	if sess.Status != types.StatusActive {
		t.Errorf("status: got %q, want active (fresh heartbeat)", sess.Status)
	}

	// The heartbeat ages like any timestamp — silence still ends the cook.
	tr.SetNow(func() time.Time { return now.Add(3000 * time.Second) })
	if err := tr.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	sess, _ = st.GetSession(ctx, "cook1")
	if sess.Status != types.StatusEnded {
		t.Errorf("status: got %q, want ended (heartbeat aged out)", sess.Status)
	}
}

func TestSweep_NoParseableTimestampIsStale(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	// Backfilled session with no readings and no heartbeat.
	if _, err := st.CreateSessionIfAbsent(ctx, "ghost", 0, now.Unix()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tr.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sess, _ := st.GetSession(ctx, "ghost")
	if sess.Status != types.StatusStale {
		t.Errorf("status: got %q, want stale (liveness unprovable)", sess.Status)
	}
}

// --- Latest -----------------------------------------------------------------

func TestLatest_ReportsAgeAndGap(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	tr.ObserveEvent(ctx, "cook1", now.Unix()-1700) //nolint:errcheck
	insertReading(t, st, "cook1", now.Unix()-1700)

	latest, err := tr.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.SessionID != "cook1" {
		t.Errorf("session_id: got %q", latest.SessionID)
	}
	if latest.Status != types.StatusActive {
		t.Errorf("status: got %q, want active", latest.Status)
	}
	if latest.AgeSecs != 1700 {
		t.Errorf("age_secs: got %d, want 1700", latest.AgeSecs)
	}
	if latest.GapSecs != 1800 {
		t.Errorf("gap_secs: got %d, want 1800", latest.GapSecs)
	}
}

func TestLatest_NoSessions(t *testing.T) {
	tr, _ := newTracker(t, time.Now())
	if _, err := tr.Latest(context.Background()); err != store.ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestLatest_PicksMostRecentlyStarted(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	tr.ObserveEvent(ctx, "old-cook", now.Unix()-90000) //nolint:errcheck
	tr.ObserveEvent(ctx, "new-cook", now.Unix()-100)   //nolint:errcheck
	insertReading(t, st, "new-cook", now.Unix()-100)

	latest, err := tr.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.SessionID != "new-cook" {
		t.Errorf("session_id: got %q, want new-cook", latest.SessionID)
	}
}

// --- Backfill ---------------------------------------------------------------

func TestBackfill_Idempotent(t *testing.T) {
	now := time.Date(2025, 9, 14, 12, 0, 0, 0, time.UTC)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	insertReading(t, st, "20250913090000", 1726218000)
	insertReading(t, st, "20250913090000", 1726218060)
	insertReading(t, st, "brisket-run", 1726300000)

	created, err := tr.Backfill(ctx)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if created != 2 {
		t.Errorf("created: got %d, want 2", created)
	}

	// Second pass over the same history creates nothing and changes nothing.
	created, err = tr.Backfill(ctx)
	if err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	if created != 0 {
		t.Errorf("second pass created: got %d, want 0", created)
	}

	sess, err := st.GetSession(ctx, "20250913090000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != types.StatusUnknown {
		t.Errorf("status: got %q, want unknown", sess.Status)
	}
	want := time.Date(2025, 9, 13, 9, 0, 0, 0, time.UTC).Unix()
	if sess.StartedAt != want {
		t.Errorf("started_at: got %d, want %d (derived from id)", sess.StartedAt, want)
	}
}

func TestBackfill_DoesNotOverwriteLiveSessions(t *testing.T) {
	now := time.Unix(1726315200, 0)
	tr, st := newTracker(t, now)
	ctx := context.Background()

	tr.ObserveEvent(ctx, "cook1", 1726310000) //nolint:errcheck
	insertReading(t, st, "cook1", 1726310000)

	if _, err := tr.Backfill(ctx); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	sess, _ := st.GetSession(ctx, "cook1")
	if sess.Status != types.StatusActive || sess.StartedAt != 1726310000 {
		t.Errorf("live session modified: status=%q started_at=%d", sess.Status, sess.StartedAt)
	}
}

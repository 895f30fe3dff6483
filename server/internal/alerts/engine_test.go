package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

type captureNotifier struct {
	sent []*types.AlertEvent
}

func (c *captureNotifier) Send(_ context.Context, alert *types.AlertEvent) error {
	c.sent = append(c.sent, alert)
	return nil
}

func newEngine(t *testing.T) (*Engine, *store.Store, *captureNotifier) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	n := &captureNotifier{}
	e := NewEngine(st, NewGate(st), n)
	e.SetNow(func() time.Time { return time.Unix(1700000000, 0) })
	return e, st, n
}

func assign(t *testing.T, st *store.Store, sid, probe string, min, max *float64) {
	t.Helper()
	rcpt := "+15550100"
	err := st.UpsertAssignment(context.Background(), store.AssignmentPatch{
		SessionID: sid,
		ProbeID:   probe,
		MinAlert:  min,
		MaxAlert:  max,
		Recipient: &rcpt,
	})
	if err != nil {
		t.Fatalf("upsert assignment: %v", err)
	}
}

func process(t *testing.T, e *Engine, sid string, probes map[string]string) {
	t.Helper()
	if err := e.Process(context.Background(), reading(sid, probes)); err != nil {
		t.Fatalf("process: %v", err)
	}
}

// --- gate -------------------------------------------------------------------

func TestGateEmitsOnlyOnTransition(t *testing.T) {
	_, st, _ := newEngine(t)
	g := NewGate(st)
	ctx := context.Background()

	// below, below, below, none, below → exactly two emits.
	sequence := []string{
		types.DirectionBelow, types.DirectionBelow, types.DirectionBelow,
		types.DirectionNone, types.DirectionBelow,
	}
	want := []bool{true, false, false, false, true}

	for i, dir := range sequence {
		emit, err := g.Admit(ctx, "cook-1", "probe_1", dir, 1700000000)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if emit != want[i] {
			t.Errorf("step %d (%s): emit = %v, want %v", i, dir, emit, want[i])
		}
	}
}

func TestGateBelowToAboveEmits(t *testing.T) {
	_, st, _ := newEngine(t)
	g := NewGate(st)
	ctx := context.Background()

	if emit, _ := g.Admit(ctx, "cook-1", "probe_1", types.DirectionBelow, 1); !emit {
		t.Fatal("first below should emit")
	}
	if emit, _ := g.Admit(ctx, "cook-1", "probe_1", types.DirectionAbove, 2); !emit {
		t.Error("below→above should emit without an intervening in-bounds reading")
	}
}

func TestGateStateIsPerProbe(t *testing.T) {
	_, st, _ := newEngine(t)
	g := NewGate(st)
	ctx := context.Background()

	if emit, _ := g.Admit(ctx, "cook-1", "probe_1", types.DirectionBelow, 1); !emit {
		t.Fatal("probe_1 first below should emit")
	}
	if emit, _ := g.Admit(ctx, "cook-1", "probe_2", types.DirectionBelow, 2); !emit {
		t.Error("probe_2 must have its own gate state")
	}
}

func TestGateSurvivesRestart(t *testing.T) {
	_, st, _ := newEngine(t)
	ctx := context.Background()

	g1 := NewGate(st)
	if emit, _ := g1.Admit(ctx, "cook-1", "probe_1", types.DirectionBelow, 1); !emit {
		t.Fatal("first below should emit")
	}

	// A fresh gate over the same store must see the persisted direction.
	g2 := NewGate(st)
	if emit, _ := g2.Admit(ctx, "cook-1", "probe_1", types.DirectionBelow, 2); emit {
		t.Error("repeat below after restart should be suppressed")
	}
}

// --- engine -----------------------------------------------------------------

func TestEngineNoAssignmentsIsNoOp(t *testing.T) {
	e, st, n := newEngine(t)
	process(t, e, "cook-1", map[string]string{"probe_1": "10"})

	if len(n.sent) != 0 {
		t.Fatalf("expected no notifications, got %d", len(n.sent))
	}
	alerts, err := st.RecentAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no persisted alerts, got %d", len(alerts))
	}
}

func TestEngineExcursionAndRecovery(t *testing.T) {
	e, st, n := newEngine(t)
	assign(t, st, "cook-1", "probe_1", f(100), f(250))

	process(t, e, "cook-1", map[string]string{"probe_1": "89"})  // fires below
	process(t, e, "cook-1", map[string]string{"probe_1": "85"})  // suppressed
	process(t, e, "cook-1", map[string]string{"probe_1": "180"}) // re-arms
	process(t, e, "cook-1", map[string]string{"probe_1": "90"})  // fires again
	process(t, e, "cook-1", map[string]string{"probe_1": "300"}) // fires above

	if len(n.sent) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(n.sent))
	}
	wantDirs := []string{types.DirectionBelow, types.DirectionBelow, types.DirectionAbove}
	for i, a := range n.sent {
		if a.Direction != wantDirs[i] {
			t.Errorf("alert %d direction = %q, want %q", i, a.Direction, wantDirs[i])
		}
		if a.Recipient != "+15550100" {
			t.Errorf("alert %d recipient = %q", i, a.Recipient)
		}
		if a.Message == "" || a.ID == "" {
			t.Errorf("alert %d missing message or id: %+v", i, a)
		}
	}

	alerts, err := st.RecentAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected 3 persisted alerts, got %d", len(alerts))
	}
}

func TestEngineAbsentProbeDoesNotResetGate(t *testing.T) {
	e, st, n := newEngine(t)
	assign(t, st, "cook-1", "probe_1", f(100), nil)

	process(t, e, "cook-1", map[string]string{"probe_1": "89"})
	// Reading without the probe at all: gate state must be untouched.
	process(t, e, "cook-1", map[string]string{"probe_2": "180"})
	process(t, e, "cook-1", map[string]string{"probe_1": "88"})

	if len(n.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.sent))
	}
}

func TestEngineNonNumericDoesNotResetGate(t *testing.T) {
	e, st, n := newEngine(t)
	assign(t, st, "cook-1", "probe_1", f(100), nil)

	process(t, e, "cook-1", map[string]string{"probe_1": "89"})
	process(t, e, "cook-1", map[string]string{"probe_1": `"---"`})
	process(t, e, "cook-1", map[string]string{"probe_1": "88"})

	if len(n.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.sent))
	}
}

func TestEngineOnAlertHook(t *testing.T) {
	e, st, _ := newEngine(t)
	assign(t, st, "cook-1", "probe_1", f(100), nil)

	var hooked []*types.AlertEvent
	e.OnAlert(func(a *types.AlertEvent) { hooked = append(hooked, a) })

	process(t, e, "cook-1", map[string]string{"probe_1": "89"})
	if len(hooked) != 1 {
		t.Fatalf("expected hook to fire once, got %d", len(hooked))
	}
	if hooked[0].FiredAt != 1700000000 {
		t.Errorf("fired_at = %d, want 1700000000", hooked[0].FiredAt)
	}
}

func TestEngineGateIsPerSession(t *testing.T) {
	e, st, n := newEngine(t)
	assign(t, st, "cook-1", "probe_1", f(100), nil)
	assign(t, st, "cook-2", "probe_1", f(100), nil)

	process(t, e, "cook-1", map[string]string{"probe_1": "89"})
	process(t, e, "cook-2", map[string]string{"probe_1": "89"})

	if len(n.sent) != 2 {
		t.Fatalf("expected one alert per session, got %d", len(n.sent))
	}
}

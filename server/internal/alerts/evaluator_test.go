package alerts

import (
	"encoding/json"
	"testing"

	"github.com/pitwatch/pitwatch/pkg/types"
)

func f(v float64) *float64 { return &v }

func reading(sid string, probes map[string]string) *types.Reading {
	r := &types.Reading{
		SessionID: sid,
		Probes:    make(map[string]json.RawMessage, len(probes)),
	}
	for k, v := range probes {
		r.Probes[k] = json.RawMessage(v)
	}
	return r
}

// --- evaluator --------------------------------------------------------------

func TestEvaluateThresholds(t *testing.T) {
	cases := []struct {
		name      string
		value     string
		min, max  *float64
		direction string // "" means no event expected
		threshold float64
	}{
		{name: "below min", value: "89", min: f(100), max: f(250), direction: types.DirectionBelow, threshold: 100},
		{name: "above max", value: "275.5", min: f(100), max: f(250), direction: types.DirectionAbove, threshold: 250},
		{name: "in bounds", value: "180", min: f(100), max: f(250)},
		{name: "equal to min does not trigger", value: "100", min: f(100), max: f(250)},
		{name: "equal to max does not trigger", value: "250", min: f(100), max: f(250)},
		{name: "no min bound", value: "5", max: f(250)},
		{name: "no max bound", value: "999", min: f(100)},
		{name: "no bounds at all", value: "999"},
		{name: "object value form", value: `{"value": 90}`, min: f(100), direction: types.DirectionBelow, threshold: 100},
		{name: "numeric string form", value: `"90"`, min: f(100), direction: types.DirectionBelow, threshold: 100},
		{name: "non-numeric skipped", value: `"warming up"`, min: f(100), max: f(250)},
		{name: "null skipped", value: "null", min: f(100), max: f(250)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := reading("cook-1", map[string]string{"probe_1": tc.value})
			events := Evaluate(r, []*types.Assignment{{
				SessionID: "cook-1",
				ProbeID:   "probe_1",
				MinAlert:  tc.min,
				MaxAlert:  tc.max,
				Recipient: "+15550100",
			}})

			if tc.direction == "" {
				if len(events) != 0 {
					t.Fatalf("expected no events, got %+v", events)
				}
				return
			}
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			ev := events[0]
			if ev.Direction != tc.direction {
				t.Errorf("direction = %q, want %q", ev.Direction, tc.direction)
			}
			if ev.Threshold != tc.threshold {
				t.Errorf("threshold = %g, want %g", ev.Threshold, tc.threshold)
			}
			if ev.Recipient != "+15550100" {
				t.Errorf("recipient = %q, want +15550100", ev.Recipient)
			}
		})
	}
}

func TestEvaluateMinWinsOverMax(t *testing.T) {
	// min > max is a misconfiguration; the value 150 violates both bounds.
	// The below-min event must win.
	r := reading("cook-1", map[string]string{"probe_1": "150"})
	events := Evaluate(r, []*types.Assignment{{
		SessionID: "cook-1", ProbeID: "probe_1", MinAlert: f(200), MaxAlert: f(100),
	}})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Direction != types.DirectionBelow {
		t.Errorf("direction = %q, want below", events[0].Direction)
	}
}

func TestEvaluateProbeAbsentFromReading(t *testing.T) {
	r := reading("cook-1", map[string]string{"probe_2": "50"})
	events := Evaluate(r, []*types.Assignment{{
		SessionID: "cook-1", ProbeID: "probe_1", MinAlert: f(100),
	}})
	if len(events) != 0 {
		t.Fatalf("expected no events for unassigned probe, got %+v", events)
	}
}

func TestEvaluateMultipleProbes(t *testing.T) {
	r := reading("cook-1", map[string]string{
		"probe_1": "89",
		"probe_2": "300",
		"probe_3": "180",
	})
	events := Evaluate(r, []*types.Assignment{
		{SessionID: "cook-1", ProbeID: "probe_1", MinAlert: f(100), MaxAlert: f(250)},
		{SessionID: "cook-1", ProbeID: "probe_2", MinAlert: f(100), MaxAlert: f(250)},
		{SessionID: "cook-1", ProbeID: "probe_3", MinAlert: f(100), MaxAlert: f(250)},
	})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
}

func TestEventMessageWording(t *testing.T) {
	below := Event{ProbeID: "probe_1", Direction: types.DirectionBelow, Value: 89, Threshold: 100}
	if got, want := below.Message(), "Alert for Probe probe_1: Temperature 89 is below the minimum threshold of 100."; got != want {
		t.Errorf("below message = %q, want %q", got, want)
	}

	above := Event{ProbeID: "probe_2", Direction: types.DirectionAbove, Value: 275.5, Threshold: 250}
	if got, want := above.Message(), "Alert for Probe probe_2: Temperature 275.5 exceeds the maximum threshold of 250."; got != want {
		t.Errorf("above message = %q, want %q", got, want)
	}
}

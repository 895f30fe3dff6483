package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitwatch/pitwatch/agent/internal/config"
)

// controllerPayload mimics a smoker controller status snapshot: mixed value
// encodings and a bare HHMMSS clock timestamp.
const controllerPayload = `{
  "session_id": "cook-20250914090000",
  "timestamp": "093000",
  "probe_1": 145.2,
  "probe_2": "152",
  "smoker_temp": {"value": 225.5},
  "humidity": 48,
  "probe_3": null
}`

func TestControllerScraper_Scrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(controllerPayload))
	}))
	defer srv.Close()

	s := &controllerScraper{
		src:    config.Source{ID: "smoker", Type: "controller", Endpoint: srv.URL},
		client: srv.Client(),
	}

	sample, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if sample.Err != nil {
		t.Fatalf("sample.Err = %v", sample.Err)
	}

	if sample.SessionID != "cook-20250914090000" {
		t.Errorf("SessionID = %q", sample.SessionID)
	}
	if string(sample.Timestamp) != `"093000"` {
		t.Errorf("Timestamp = %s", sample.Timestamp)
	}
	// Reserved keys must not leak into the probe map.
	if len(sample.Probes) != 5 {
		t.Errorf("Probes = %v, want 5 entries", sample.Probes)
	}
	if string(sample.Probes["probe_1"]) != "145.2" {
		t.Errorf("probe_1 = %s", sample.Probes["probe_1"])
	}
	// Value encodings pass through untouched.
	if string(sample.Probes["probe_2"]) != `"152"` {
		t.Errorf("probe_2 = %s", sample.Probes["probe_2"])
	}
	if string(sample.Probes["smoker_temp"]) != `{"value": 225.5}` {
		t.Errorf("smoker_temp = %s", sample.Probes["smoker_temp"])
	}
}

func TestControllerScraper_NoSessionInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"probe_1": 145.2}`))
	}))
	defer srv.Close()

	s := &controllerScraper{src: config.Source{ID: "smoker", Endpoint: srv.URL}, client: srv.Client()}
	sample, _ := s.Scrape(context.Background())

	if sample.Err != nil {
		t.Fatalf("sample.Err = %v", sample.Err)
	}
	if sample.SessionID != "" {
		t.Errorf("SessionID = %q, want empty (agent fills it)", sample.SessionID)
	}
	if sample.Timestamp != nil {
		t.Errorf("Timestamp = %s, want nil", sample.Timestamp)
	}
}

func TestControllerScraper_EmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"session_id": "cook-1"}`))
	}))
	defer srv.Close()

	s := &controllerScraper{src: config.Source{ID: "smoker", Endpoint: srv.URL}, client: srv.Client()}
	sample, _ := s.Scrape(context.Background())
	if sample.Err == nil {
		t.Fatal("sample.Err should be set for a payload with no probes")
	}
}

func TestControllerScraper_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>login required</html>`))
	}))
	defer srv.Close()

	s := &controllerScraper{src: config.Source{ID: "smoker", Endpoint: srv.URL}, client: srv.Client()}
	sample, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() should not return err, got: %v", err)
	}
	if sample.Err == nil {
		t.Fatal("sample.Err should be set for unparseable payload")
	}
}

func TestControllerScraper_ConnectFailure(t *testing.T) {
	s := &controllerScraper{
		src:    config.Source{ID: "smoker-down", Endpoint: "http://127.0.0.1:1"},
		client: &http.Client{},
	}
	sample, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() should not return err, got: %v", err)
	}
	if sample.Err == nil {
		t.Fatal("sample.Err should be set when endpoint is unreachable")
	}
}

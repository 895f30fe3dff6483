package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pitwatch/pitwatch/agent/internal/config"
)

// controllerScraper polls a smoker controller's JSON status endpoint. The
// payload is the controller's flat form: session_id and timestamp are
// reserved keys when present, every other key is a probe or sensor value.
// Values are passed through verbatim — some firmware sends numbers, some
// numeric strings, some {value: n} objects; the server copes with all three.
type controllerScraper struct {
	src    config.Source
	client *http.Client
}

func (s *controllerScraper) Scrape(ctx context.Context) (*Sample, error) {
	sample := newSample(s.src.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.src.Endpoint, nil)
	if err != nil {
		sample.Err = fmt.Errorf("controller scrape %q: build request: %w", s.src.ID, err)
		return sample, nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		sample.Err = fmt.Errorf("controller scrape %q: %w", s.src.ID, err)
		slog.Warn("scraper: controller fetch failed", "source", s.src.ID, "err", err)
		return sample, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		sample.Err = fmt.Errorf("controller scrape %q: unexpected status %d", s.src.ID, resp.StatusCode)
		return sample, nil
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		sample.Err = fmt.Errorf("controller scrape %q: decode json: %w", s.src.ID, err)
		slog.Warn("scraper: controller payload unreadable", "source", s.src.ID, "err", err)
		return sample, nil
	}

	for k, v := range raw {
		switch k {
		case "session_id":
			var sid string
			if err := json.Unmarshal(v, &sid); err == nil {
				sample.SessionID = sid
			}
		case "timestamp":
			sample.Timestamp = v
		default:
			sample.Probes[k] = v
		}
	}

	if len(sample.Probes) == 0 {
		sample.Err = fmt.Errorf("controller scrape %q: payload carried no probe values", s.src.ID)
	}
	return sample, nil
}

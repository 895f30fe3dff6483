package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pitwatch/pitwatch/agent/internal/config"
)

// promScraper polls a Prometheus text exposition and turns each matching
// metric family into one probe value. Smoker controllers with a node
// exporter sidecar publish gauges like smoker_probe1_temp; MetricPrefix
// selects them and is stripped from the probe name.
type promScraper struct {
	src    config.Source
	client *http.Client
}

func (s *promScraper) Scrape(ctx context.Context) (*Sample, error) {
	sample := newSample(s.src.ID)

	mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
	if err != nil {
		sample.Err = fmt.Errorf("prometheus scrape %q: %w", s.src.ID, err)
		slog.Warn("scraper: prometheus fetch failed", "source", s.src.ID, "err", err)
		return sample, nil
	}

	for name, mf := range mfs {
		if s.src.MetricPrefix != "" && !strings.HasPrefix(name, s.src.MetricPrefix) {
			continue
		}
		v, ok := familyValue(mf)
		if !ok {
			continue
		}
		probe := strings.TrimPrefix(name, s.src.MetricPrefix)
		sample.Probes[probe] = json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64))
	}

	if len(sample.Probes) == 0 {
		sample.Err = fmt.Errorf("prometheus scrape %q: no metric families matched prefix %q",
			s.src.ID, s.src.MetricPrefix)
	}
	return sample, nil
}

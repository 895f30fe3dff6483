package shipper

import (
	"encoding/json"
	"strconv"

	"github.com/pitwatch/pitwatch/agent/internal/scraper"
)

// toPayload flattens a scraped sample into the ingest wire form: session_id
// and timestamp as reserved keys, every probe at top level. The agent's own
// session and the scrape time fill in whatever the source did not carry.
func toPayload(sample *scraper.Sample, agentSession string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(sample.Probes)+2)

	sid := sample.SessionID
	if sid == "" {
		sid = agentSession
	}
	out["session_id"] = json.RawMessage(strconv.Quote(sid))

	if len(sample.Timestamp) > 0 {
		out["timestamp"] = sample.Timestamp
	} else {
		out["timestamp"] = json.RawMessage(strconv.FormatInt(sample.ScrapedAt.Unix(), 10))
	}

	for k, v := range sample.Probes {
		// Reserved keys from a misbehaving source lose to the envelope.
		if k == "session_id" || k == "timestamp" {
			continue
		}
		out[k] = v
	}
	return out
}

package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

const (
	// sampleQueryLimit is how far back in the telemetry history the advisor
	// looks before filtering down to the prompt window.
	sampleQueryLimit = 120

	systemPrompt = "You help with barbecue smoking."
	temperature  = 0.3
	maxTokens    = 300
)

// Options configure an Advisor.
type Options struct {
	// BaseURL is the OpenAI-compatible API root; empty means the public
	// OpenAI endpoint.
	BaseURL string

	// APIKey authenticates requests. May be empty for local proxies.
	APIKey string

	// Model is the chat model identifier.
	Model string

	// MaxSamples caps how many readings go into the prompt.
	MaxSamples int
}

// Advice is the advisor's answer for one probe.
type Advice struct {
	Advice string `json:"advice"`
	Model  string `json:"model"`
}

// Advisor turns a session's recent probe readings into short cooking tips
// via an LLM. The chat client is created lazily on first use so a disabled
// or unconfigured advisor costs nothing.
type Advisor struct {
	store *store.Store
	opts  Options

	// initOnce guards the lazy client build: concurrent advice requests must
	// agree on a single Completer instance.
	initOnce  sync.Once
	completer Completer
}

// New creates an Advisor over st.
func New(st *store.Store, opts Options) *Advisor {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 12
	}
	return &Advisor{store: st, opts: opts}
}

// SetCompleter replaces the chat backend. Test hook; call before Advise.
func (a *Advisor) SetCompleter(c Completer) {
	a.initOnce.Do(func() {})
	a.completer = c
}

func (a *Advisor) client() Completer {
	a.initOnce.Do(func() {
		a.completer = newClient(a.opts.BaseURL, a.opts.APIKey)
	})
	return a.completer
}

// Advise fetches the session's recent readings and asks the model for tips
// specific to probeID.
func (a *Advisor) Advise(ctx context.Context, sessionID, probeID string) (*Advice, error) {
	if sessionID == "" || probeID == "" {
		return nil, fmt.Errorf("advisor: session_id and probe_id required")
	}

	readings, err := a.store.RecentReadings(ctx, sessionID, sampleQueryLimit)
	if err != nil {
		return nil, fmt.Errorf("advisor: load readings: %w", err)
	}

	prompt := a.buildPrompt(readings, probeID)

	temp := temperature
	tokens := maxTokens
	resp, err := a.client().Complete(ctx, &ChatRequest{
		Model: a.opts.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: &temp,
		MaxTokens:   &tokens,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("advisor: model returned no choices")
	}

	model := resp.Model
	if model == "" {
		model = a.opts.Model
	}
	return &Advice{
		Advice: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:  model,
	}, nil
}

// buildPrompt renders the newest readings that carry the selected probe into
// a compact series, newest first, and wraps it in the pitmaster briefing.
func (a *Advisor) buildPrompt(readings []*types.Reading, probeID string) string {
	var lines []string
	for _, r := range readings {
		if len(lines) >= a.opts.MaxSamples {
			break
		}
		v, ok := numeric(r.Probes[probeID])
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s=%gF%s",
			sampleTime(r), probeID, v, otherProbes(r, probeID)))
	}

	series := "No recent readings for that probe."
	if len(lines) > 0 {
		series = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`You're an experienced pitmaster assistant.
Given these recent readings for the smokehouse, provide 2-4 concise, practical tips specific to the selected probe.

Readings (newest first):
%s

Guidance requirements:
- Keep it actionable and brief.
- If temps are flat or missing, note it and suggest checks (cable seating, probe position).
- If chamber temps swing, mention vent/fire adjustments.
- If humidity or smoke seems off, suggest small tweaks.
- No brand names; no emojis.

Return just the advice text (no JSON).
`, series)
}

// otherProbes renders the remaining sensors of a reading, sorted for stable
// prompts.
func otherProbes(r *types.Reading, skip string) string {
	keys := make([]string, 0, len(r.Probes))
	for k := range r.Probes {
		if k != skip {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if v, ok := numeric(r.Probes[k]); ok {
			fmt.Fprintf(&b, ", %s=%g", k, v)
		}
	}
	return b.String()
}

func sampleTime(r *types.Reading) string {
	if r.Epoch > 0 {
		return time.Unix(r.Epoch, 0).UTC().Format(time.RFC3339)
	}
	if len(r.Timestamp) > 0 {
		return strings.Trim(string(r.Timestamp), `"`)
	}
	return "unknown"
}

// numeric extracts a probe value from its raw JSON form: a bare number, a
// numeric string, or a {value: n} object.
func numeric(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	var obj struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != nil {
		return *obj.Value, true
	}
	return 0, false
}

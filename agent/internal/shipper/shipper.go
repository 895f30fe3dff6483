package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/pitwatch/pitwatch/agent/internal/config"
	"github.com/pitwatch/pitwatch/agent/internal/scraper"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// agentHeader marks readings as agent-shipped so the server can tell
	// them apart from ad-hoc posts.
	agentHeader = "X-Pitwatch-Agent"
)

// Shipper buffers scraped samples and ships them to pitwatch-server's ingest
// endpoint. Ship() is non-blocking; when the buffer is full the oldest
// sample is evicted. Run() must be called in a goroutine to drain the buffer
// and handle retry backoff.
type Shipper struct {
	cfg     config.AgentConfig
	session string
	buf     chan map[string]json.RawMessage
	client  *http.Client
}

// New creates a Shipper using the given agent config. agentSession is the
// session id the agent minted at startup, used for samples whose source did
// not name one.
func New(cfg config.AgentConfig, agentSession string) *Shipper {
	return &Shipper{
		cfg:     cfg,
		session: agentSession,
		buf:     make(chan map[string]json.RawMessage, cfg.BufferSize),
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// Ship flattens a sample to the wire form and enqueues it. Samples whose
// scrape failed are dropped. If the buffer is full the oldest entry is
// evicted to make room.
func (s *Shipper) Ship(sample *scraper.Sample) {
	if sample.Err != nil {
		slog.Debug("shipper: skipping failed sample", "source", sample.SourceID, "err", sample.Err)
		return
	}

	payload := toPayload(sample, s.session)
	select {
	case s.buf <- payload:
	default:
		// Buffer full — drop the oldest reading, keep the newest.
		select {
		case <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest reading",
				"source", sample.SourceID, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- payload
	}
}

// Run drains the buffer, posting readings to the server. Failed sends back
// off exponentially with jitter; the reading is requeued unless the server
// rejected it outright. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		select {
		case <-ctx.Done():
			return

		case payload := <-s.buf:
			err := s.send(ctx, payload)
			if err == nil {
				bo.reset()
				continue
			}

			if isPermanent(err) {
				// The server will never accept this reading; discard it.
				slog.Error("shipper: reading rejected, discarding",
					"session_id", payloadSession(payload), "err", err)
				continue
			}

			// Transient failure — requeue if there's room and back off.
			select {
			case s.buf <- payload:
			default:
				// Buffer full — reading lost; the next scrape cycle's data
				// will cover the gap.
			}

			wait := bo.next()
			slog.Warn("shipper: send failed, backing off",
				"endpoint", s.cfg.ServerEndpoint, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// send posts one reading to the ingest endpoint.
func (s *Shipper) send(ctx context.Context, payload map[string]json.RawMessage) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &permanentError{fmt.Errorf("marshal reading: %w", err)}
	}

	url := strings.TrimSuffix(s.cfg.ServerEndpoint, "/") + "/api/v1/ingest"
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(agentHeader, "1")
	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		req.Header.Set(s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		slog.Debug("shipper: reading delivered", "session_id", payloadSession(payload))
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// Server-side trouble — worth retrying.
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	default:
		// 4xx: the reading itself is unacceptable (malformed, bad key).
		return &permanentError{fmt.Errorf("server rejected reading: HTTP %d", resp.StatusCode)}
	}
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	_, ok := err.(*permanentError)
	return ok
}

func payloadSession(payload map[string]json.RawMessage) string {
	var sid string
	_ = json.Unmarshal(payload["session_id"], &sid)
	return sid
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}

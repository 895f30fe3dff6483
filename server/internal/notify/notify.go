package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pitwatch/pitwatch/pkg/types"
	"github.com/pitwatch/pitwatch/server/internal/metrics"
)

const defaultSendTimeout = 10 * time.Second

// Notifier sends one fully formed alert to an operator. Implementations own
// their transport; the caller treats delivery success as opaque.
type Notifier interface {
	Send(ctx context.Context, alert *types.AlertEvent) error
}

// TargetConfig defines one delivery target.
type TargetConfig struct {
	// Type is one of: sms | webhook | log.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the target URL
	// (SMS gateway endpoint or webhook URL). Keeping the URL out of the
	// config file keeps credentials embedded in it out of version control.
	URLEnv string `yaml:"url_env"`

	// TokenEnv names the environment variable holding a bearer token for
	// the SMS gateway. Optional.
	TokenEnv string `yaml:"token_env"`
}

// URL resolves the target URL from the environment.
func (c TargetConfig) URL() string {
	if c.URLEnv == "" {
		return ""
	}
	return os.Getenv(c.URLEnv)
}

// Token resolves the bearer token from the environment.
func (c TargetConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// Fanout delivers each alert to every configured target. Per-target failures
// are logged and counted but do not stop the remaining targets; Send returns
// the first error encountered so callers can surface a retryable failure.
type Fanout struct {
	targets []namedTarget
}

type namedTarget struct {
	name string
	n    Notifier
}

// New builds a Fanout from target configs. Unknown types are skipped with a
// warning. An empty Fanout is valid — Send becomes a no-op.
func New(cfgs []TargetConfig) *Fanout {
	f := &Fanout{}
	client := &http.Client{Timeout: defaultSendTimeout}
	for _, c := range cfgs {
		switch c.Type {
		case "sms":
			f.targets = append(f.targets, namedTarget{"sms", &smsGateway{cfg: c, client: client}})
		case "webhook":
			f.targets = append(f.targets, namedTarget{"webhook", &webhook{cfg: c, client: client}})
		case "log":
			f.targets = append(f.targets, namedTarget{"log", logNotifier{}})
		default:
			slog.Warn("notify: unknown target type — skipping", "type", c.Type)
		}
	}
	return f
}

// Send fans the alert out to all targets.
func (f *Fanout) Send(ctx context.Context, alert *types.AlertEvent) error {
	var firstErr error
	for _, t := range f.targets {
		if err := t.n.Send(ctx, alert); err != nil {
			metrics.NotifyFailures.WithLabelValues(t.name).Inc()
			slog.Error("notify: delivery failed",
				"target", t.name,
				"probe", alert.ProbeID,
				"err", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// --- targets ----------------------------------------------------------------

// smsGateway posts {to, message} to an HTTP SMS gateway. The recipient comes
// from the alert's probe assignment, so each probe can page a different
// phone.
type smsGateway struct {
	cfg    TargetConfig
	client *http.Client
}

func (s *smsGateway) Send(ctx context.Context, alert *types.AlertEvent) error {
	url := s.cfg.URL()
	if url == "" {
		return fmt.Errorf("sms gateway url not configured")
	}
	if alert.Recipient == "" {
		// No phone on the assignment — nothing to deliver, not an error.
		slog.Debug("notify: alert has no recipient, skipping sms", "probe", alert.ProbeID)
		return nil
	}

	body, _ := json.Marshal(map[string]string{
		"to":      alert.Recipient,
		"message": alert.Message,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := s.cfg.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sms gateway returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// webhook posts the full alert event as JSON to a generic HTTP target.
type webhook struct {
	cfg    TargetConfig
	client *http.Client
}

func (w *webhook) Send(ctx context.Context, alert *types.AlertEvent) error {
	url := w.cfg.URL()
	if url == "" {
		return fmt.Errorf("webhook url not configured")
	}

	body, _ := json.Marshal(map[string]any{"alert": alert})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// logNotifier writes alerts to the structured log. Useful for local
// development and as a delivery audit trail.
type logNotifier struct{}

func (logNotifier) Send(_ context.Context, alert *types.AlertEvent) error {
	slog.Warn("ALERT",
		"session_id", alert.SessionID,
		"probe", alert.ProbeID,
		"direction", alert.Direction,
		"value", alert.Value,
		"threshold", alert.Threshold,
		"recipient", alert.Recipient,
	)
	return nil
}

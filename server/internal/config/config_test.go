package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Minimal config — server section absent entirely.
	p := writeConfig(t, `agent:
  server_endpoint: "http://localhost:8080"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.Sessions.GapWindow != DefaultGapWindow {
		t.Errorf("gap_window: got %v, want %v", cfg.Server.Sessions.GapWindow, DefaultGapWindow)
	}
	if cfg.Server.Sessions.EndedTimeout != DefaultEndedTimeout {
		t.Errorf("ended_timeout: got %v, want %v", cfg.Server.Sessions.EndedTimeout, DefaultEndedTimeout)
	}
	if cfg.Server.Storage.Path != DefaultStoragePath {
		t.Errorf("storage.path: got %q, want %q", cfg.Server.Storage.Path, DefaultStoragePath)
	}
	if cfg.Server.Advisor.Enabled {
		t.Error("advisor should be disabled by default")
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-pit-key
  storage:
    path: /var/lib/pitwatch/data.db
  sessions:
    gap_window: 20m
    ended_timeout: 40m
    sweep_interval: 30s
  notify:
    - type: sms
      url_env: SMS_URL
      token_env: SMS_TOKEN
    - type: log
  advisor:
    enabled: true
    model: gpt-4o
    max_samples: 8
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-pit-key" {
		t.Errorf("header: got %q, want x-pit-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.Sessions.GapWindow != 20*time.Minute {
		t.Errorf("gap_window: got %v, want 20m", cfg.Server.Sessions.GapWindow)
	}
	if len(cfg.Server.Notify) != 2 {
		t.Fatalf("notify: got %d targets, want 2", len(cfg.Server.Notify))
	}
	if cfg.Server.Notify[0].Type != "sms" || cfg.Server.Notify[0].URLEnv != "SMS_URL" {
		t.Errorf("notify[0] = %+v", cfg.Server.Notify[0])
	}
	if !cfg.Server.Advisor.Enabled || cfg.Server.Advisor.Model != "gpt-4o" {
		t.Errorf("advisor = %+v", cfg.Server.Advisor)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
}

func TestLoad_EndedTimeoutMustExceedGapWindow(t *testing.T) {
	p := writeConfig(t, `server:
  sessions:
    gap_window: 30m
    ended_timeout: 30m
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected error when ended_timeout == gap_window, got nil")
	}
}

func TestLoad_UnknownNotifyType(t *testing.T) {
	p := writeConfig(t, `server:
  notify:
    - type: fax
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unknown notify type, got nil")
	}
}

func TestLoad_UnknownAuthMode(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: oauth2
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unknown auth mode, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

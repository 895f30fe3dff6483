package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitwatch/pitwatch/server/internal/notify"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort      = 8080
	DefaultStoragePath   = "pitwatch.db"
	DefaultGapWindow     = 30 * time.Minute
	DefaultEndedTimeout  = 45 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultAdvisorModel  = "gpt-4o-mini"
	DefaultAdvisorSample = 12
)

// Config holds the server-side configuration parsed from the `server:`
// section of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, ingest endpoint and WebSocket hub
	// listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates incoming REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Storage configures the SQLite persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Sessions controls the session liveness windows and the sweep cadence.
	Sessions SessionsConfig `yaml:"sessions"`

	// Notify lists alert delivery targets.
	Notify []notify.TargetConfig `yaml:"notify"`

	// Advisor configures the optional cooking-advice integration.
	Advisor AdvisorConfig `yaml:"advisor"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected
	// API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	// Path is the filesystem path for the SQLite database file.
	// ":memory:" gives an ephemeral store for local experiments.
	Path string `yaml:"path"`
}

// SessionsConfig controls session lifecycle timing. The liveness windows are
// hot-reloadable; the sweep interval is fixed at startup.
type SessionsConfig struct {
	// GapWindow is the silence after which a session is considered stale.
	// Default: 30m.
	GapWindow time.Duration `yaml:"gap_window"`

	// EndedTimeout is the silence after which a session is ended for good.
	// Must exceed GapWindow. Default: 45m.
	EndedTimeout time.Duration `yaml:"ended_timeout"`

	// SweepInterval is how often liveness is recomputed. Default: 1m.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AdvisorConfig configures the LLM-backed cooking advice endpoint.
type AdvisorConfig struct {
	// Enabled turns the /advice endpoint on. Off by default.
	Enabled bool `yaml:"enabled"`

	// BaseURL is the OpenAI-compatible API root. Defaults to the public
	// OpenAI endpoint when empty.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the chat model identifier.
	Model string `yaml:"model"`

	// MaxSamples caps how many recent readings are included in the prompt.
	MaxSamples int `yaml:"max_samples"`
}

// APIKey resolves the advisor API key from the environment.
func (a AdvisorConfig) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// Load reads and parses the config file at path, returning the server
// configuration. Missing fields are filled with sensible defaults before
// validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Storage:  StorageConfig{Path: DefaultStoragePath},
			Sessions: SessionsConfig{
				GapWindow:     DefaultGapWindow,
				EndedTimeout:  DefaultEndedTimeout,
				SweepInterval: DefaultSweepInterval,
			},
			Advisor: AdvisorConfig{
				Model:      DefaultAdvisorModel,
				MaxSamples: DefaultAdvisorSample,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Storage.Path == "" {
		return fmt.Errorf("server.storage.path must not be empty")
	}
	s := cfg.Server.Sessions
	if s.GapWindow <= 0 {
		return fmt.Errorf("server.sessions.gap_window must be positive")
	}
	if s.EndedTimeout <= s.GapWindow {
		return fmt.Errorf("server.sessions.ended_timeout (%v) must exceed gap_window (%v)",
			s.EndedTimeout, s.GapWindow)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("server.sessions.sweep_interval must be positive")
	}
	for i, n := range cfg.Server.Notify {
		switch n.Type {
		case "sms", "webhook", "log":
		default:
			return fmt.Errorf("server.notify[%d]: unknown type %q", i, n.Type)
		}
	}
	if cfg.Server.Advisor.MaxSamples <= 0 {
		return fmt.Errorf("server.advisor.max_samples must be positive")
	}
	return nil
}

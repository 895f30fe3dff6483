// Package config loads and validates the server's YAML configuration and
// supports hot reload via filesystem watching. Secrets (API keys, gateway
// URLs) are never stored in the file — the config names environment
// variables and the values are resolved at use time.
package config

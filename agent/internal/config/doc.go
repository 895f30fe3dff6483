// Package config loads and validates the agent's YAML configuration and
// supports hot reload via filesystem watching. Credentials are resolved from
// environment variables named in the file, never stored in it.
package config

// Package config resolves tabfleetctl's connection settings through the
// same priority cascade the teacher's gasoline-cmd config loader uses:
// defaults < environment < command-line flags (highest priority, applied
// by the cobra command layer after Load returns).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config holds every value tabfleetctl needs to reach a running daemon.
type Config struct {
	Addr      string
	Format    string
	TimeoutMs int
}

// Defaults returns the base configuration before env/flag overrides.
func Defaults() Config {
	return Config{
		Addr:      "ws://127.0.0.1:9790/rpc",
		Format:    "human",
		TimeoutMs: 5000,
	}
}

// Load applies TABFLEETCTL_* environment overrides on top of Defaults.
// Flag overrides are applied by the caller afterward, since cobra owns
// flag parsing and binds directly onto the returned Config's fields.
func Load() Config {
	cfg := Defaults()

	if v := os.Getenv("TABFLEETCTL_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TABFLEETCTL_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("TABFLEETCTL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutMs = n
		}
	}

	return cfg
}

// HealthPort extracts the TCP port tabfleetd's HTTP /health endpoint
// listens on, derived from the same host:port as the websocket RPC
// address since wsserver.go serves both off one mux.
func (c Config) HealthPort() (int, error) {
	u, err := url.Parse(c.Addr)
	if err != nil {
		return 0, fmt.Errorf("config: parse addr %q: %w", c.Addr, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("config: addr %q has no numeric port: %w", c.Addr, err)
	}
	return port, nil
}

// Validate checks that Format is one of the formats output.GetFormatter
// understands.
func (c Config) Validate() error {
	switch c.Format {
	case "human", "json", "csv":
		return nil
	default:
		return fmt.Errorf("format must be human, json, or csv, got %q", c.Format)
	}
}

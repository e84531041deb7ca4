package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, Defaults(), cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TABFLEETCTL_ADDR", "ws://10.0.0.5:9790/rpc")
	t.Setenv("TABFLEETCTL_FORMAT", "json")
	t.Setenv("TABFLEETCTL_TIMEOUT_MS", "9000")

	cfg := Load()
	require.Equal(t, "ws://10.0.0.5:9790/rpc", cfg.Addr)
	require.Equal(t, "json", cfg.Format)
	require.Equal(t, 9000, cfg.TimeoutMs)
}

func TestLoadIgnoresInvalidTimeoutEnv(t *testing.T) {
	t.Setenv("TABFLEETCTL_TIMEOUT_MS", "not-a-number")

	cfg := Load()
	require.Equal(t, Defaults().TimeoutMs, cfg.TimeoutMs)
}

func TestHealthPort(t *testing.T) {
	cfg := Config{Addr: "ws://127.0.0.1:9790/rpc"}
	port, err := cfg.HealthPort()
	require.NoError(t, err)
	require.Equal(t, 9790, port)
}

func TestHealthPortRejectsAddrWithoutPort(t *testing.T) {
	cfg := Config{Addr: "ws://127.0.0.1/rpc"}
	_, err := cfg.HealthPort()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, format := range []string{"human", "json", "csv"} {
		cfg := Config{Format: format}
		require.NoError(t, cfg.Validate())
	}

	cfg := Config{Format: "xml"}
	require.Error(t, cfg.Validate())
}

// Package config loads tabfleetd's daemon configuration: defaults ->
// tabfleet.toml -> environment variables, the same cascade order the
// pack's nevindra-oasis config loader uses.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/brennhill/tabfleet/internal/state"
)

// Config is the on-disk shape of tabfleet.toml, mapped onto core.Config's
// knobs plus daemon-level transport settings spec §6 doesn't itself own.
type Config struct {
	Session    SessionConfig    `toml:"session"`
	Workflow   WorkflowConfig   `toml:"workflow"`
	Scratchpad ScratchpadConfig `toml:"scratchpad"`
	Browser    BrowserConfig    `toml:"browser"`
	Transport  TransportConfig  `toml:"transport"`
	Server     ServerConfig     `toml:"server"`
}

type SessionConfig struct {
	IdleReapMs int64 `toml:"idle_reap_ms"`
	IdleScanMs int64 `toml:"idle_scan_ms"`
}

type WorkflowConfig struct {
	WorkerTimeoutMs    int64 `toml:"worker_timeout_ms"`
	GlobalTimeoutMs    int64 `toml:"global_timeout_ms"`
	MaxStaleIterations int   `toml:"max_stale_iterations"`
}

type ScratchpadConfig struct {
	BaseDir             string `toml:"base_dir"`
	RedactionConfigPath string `toml:"redaction_config_path"`
}

// BrowserConfig points at the Chrome remote-debugging HTTP endpoint
// internal/cdp.Browser drives.
type BrowserConfig struct {
	HTTPAddr string `toml:"http_addr"`
}

// TransportConfig controls which RPC transports tabfleetd listens on.
type TransportConfig struct {
	Stdio           bool   `toml:"stdio"`
	WebsocketAddr   string `toml:"websocket_addr"`
	MaxMessageBytes int    `toml:"max_message_bytes"`
}

type ServerConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

const (
	// DefaultPathEnv overrides where Load looks for tabfleet.toml.
	DefaultPathEnv = "TABFLEET_CONFIG"
	defaultPath    = "tabfleet.toml"
)

// fallbackScratchpadDir is used only when state.ScratchpadDir() itself
// fails (e.g. no HOME and no XDG_STATE_HOME in a locked-down container);
// Default must never return a Config that makes scratchpad.New fail.
const fallbackScratchpadDir = "./tabfleet-data/scratchpad"

// Default returns a Config with every daemon default applied, mirroring
// spec §6's numeric knob defaults. Scratchpad.BaseDir resolves through
// internal/state's StateDirEnv/XDG_STATE_HOME cascade so tabfleetd has a
// usable on-disk location with zero configuration.
func Default() Config {
	scratchDir, err := state.ScratchpadDir()
	if err != nil {
		scratchDir = fallbackScratchpadDir
	}

	return Config{
		Session: SessionConfig{
			IdleReapMs: 1_800_000,
			IdleScanMs: 300_000,
		},
		Workflow: WorkflowConfig{
			WorkerTimeoutMs:    60_000,
			GlobalTimeoutMs:    300_000,
			MaxStaleIterations: 5,
		},
		Scratchpad: ScratchpadConfig{
			BaseDir: scratchDir,
		},
		Browser: BrowserConfig{
			HTTPAddr: "http://127.0.0.1:9222",
		},
		Transport: TransportConfig{
			Stdio:           true,
			MaxMessageBytes: 10 * 1024 * 1024,
		},
		Server: ServerConfig{
			Name:    "tabfleetd",
			Version: "dev",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). path
// overrides the file location; an empty path falls back to
// TABFLEET_CONFIG, then ./tabfleet.toml. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(DefaultPathEnv)
	}
	if path == "" {
		path = defaultPath
	}

	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TABFLEET_SESSION_IDLE_REAP_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Session.IdleReapMs = n
		}
	}
	if v := os.Getenv("TABFLEET_SCRATCHPAD_DIR"); v != "" {
		cfg.Scratchpad.BaseDir = v
	}
	if v := os.Getenv("TABFLEET_BROWSER_HTTP_ADDR"); v != "" {
		cfg.Browser.HTTPAddr = v
	}
	if v := os.Getenv("TABFLEET_WEBSOCKET_ADDR"); v != "" {
		cfg.Transport.WebsocketAddr = v
	}
}

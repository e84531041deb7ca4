// paths.go — filesystem root resolution for tabfleetd's on-disk state
// (scratchpad snapshots, logs, pid files), adapted from the teacher's
// GASOLINE_STATE_DIR/XDG_STATE_HOME cascade. Everything the teacher kept
// here for its browser-extension settings file, security config, and
// legacy migration paths has no TabFleet analog and was dropped (see
// DESIGN.md).
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// StateDirEnv overrides RootDir entirely when set.
	StateDirEnv = "TABFLEET_STATE_DIR"

	xdgStateHomeEnv = "XDG_STATE_HOME"
	appName         = "tabfleet"
)

// RootDir resolves the directory tabfleetd's on-disk state lives under:
// StateDirEnv if set, else XDG_STATE_HOME/tabfleet, else
// os.UserConfigDir()/tabfleet. This is the same three-tier cascade the
// teacher's Gasoline daemon uses for its own state root.
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return normalizePath(override)
	}
	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(root, appName), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appName), nil
}

// InRoot joins parts onto RootDir's result.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{root}, parts...)...), nil
}

// ScratchpadDir returns the default write-behind directory for
// internal/scratchpad.Store when no explicit base_dir is configured
// (cmd/tabfleetd/config.Default()).
func ScratchpadDir() (string, error) {
	return InRoot("scratchpad")
}

// LogsDir returns the directory tabfleetd's file-backed log sink writes
// under, when one is configured.
func LogsDir() (string, error) {
	return InRoot("logs")
}

// DefaultLogFile returns the default path for tabfleetd's JSON log stream.
func DefaultLogFile() (string, error) {
	return InRoot("logs", appName+".jsonl")
}

// PIDFile returns the path tabfleetd records its process id under for the
// daemon bound to port.
func PIDFile(port int) (string, error) {
	return InRoot("run", fmt.Sprintf("%s-%d.pid", appName, port))
}

// normalizePath makes path absolute and cleans it, matching the teacher's
// treatment of environment-supplied directories (which may be relative or
// carry trailing separators).
func normalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

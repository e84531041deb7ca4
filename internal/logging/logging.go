// Package logging builds the structured loggers shared by every TabFleet
// component. All components take a *zap.Logger at construction time rather
// than reaching for a global — see DESIGN.md's note on singletons.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode selects the encoder/output pairing for New.
type Mode int

const (
	// ModeProduction emits JSON logs to stderr, matching the teacher's
	// convention of writing diagnostics to stderr so stdout stays reserved
	// for the JSON-RPC stream.
	ModeProduction Mode = iota
	// ModeDevelopment emits colorized console logs for local iteration.
	ModeDevelopment
)

// New builds a root logger for the given mode. Callers derive per-component
// loggers with Named, mirroring arkeep's logger.Named("connection") pattern.
func New(mode Mode) (*zap.Logger, error) {
	var cfg zap.Config
	switch mode {
	case ModeDevelopment:
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Noop returns a logger that discards everything, for tests that don't care
// about log output but still need to satisfy a *zap.Logger parameter.
func Noop() *zap.Logger {
	return zap.NewNop()
}

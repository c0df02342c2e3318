// Package logging builds the process-wide structured logger. Grounded on
// go.uber.org/zap as pulled by the broader example pack (AKJUS-bsc-erigon's
// go.mod takes it as a direct dependency); wired here to the teacher's own
// interactive/dashboard mode split (internal/cli.DetectMode) so that
// dashboard mode always emits single-line JSON on stderr and interactive
// mode gets a human console encoder.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode mirrors internal/cli.Mode without importing it, so this package does
// not depend on internal/cli.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeDashboard   Mode = "dashboard"
)

// New builds a *zap.SugaredLogger appropriate for the given mode. All
// component constructors in this module accept a *zap.SugaredLogger rather
// than a bare stdlib logger.
func New(mode Mode, development bool) *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	level := zapcore.InfoLevel
	if development {
		level = zapcore.DebugLevel
	}

	switch mode {
	case ModeDashboard:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		consoleCfg := encoderCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(consoleCfg)
	}

	// stderr always, keeping stdout free for the CLI's single-line JSON
	// response envelope (internal/cli.WriteJSON), matching the teacher's
	// stdout/stderr separation in internal/cli/output.go.
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core).Sugar()
}

// Noop returns a logger that discards everything, for tests.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

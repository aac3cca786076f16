// Package observability provides the shared CLI logger.
//
// All diagnostic output goes through CLILogger and is written to stderr,
// keeping stdout free for command output (listings, streamed content).
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	// ProfileConsole renders human-readable lines, for interactive use.
	ProfileConsole = "console"

	// ProfileStructured renders one JSON object per line, for log
	// collection.
	ProfileStructured = "structured"
)

// CLILogger is the process-wide logger. It is a no-op until
// InitCLILogger runs, so packages can log unconditionally.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger with the given level and profile.
func InitCLILogger(level, profile string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	switch profile {
	case "", ProfileConsole:
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case ProfileStructured:
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return fmt.Errorf("unknown logging profile %q", profile)
	}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	return nil
}

// Sync flushes buffered log entries. Called before process exit.
func Sync() {
	_ = CLILogger.Sync()
}

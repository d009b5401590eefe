// Package observability provides the process-wide logger for the CLI.
//
// The logger is initialized once by the root command before any subcommand
// runs. Until then CLILogger is a no-op, so packages can log unconditionally.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide structured logger. Never nil.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger from the logging settings.
//
// level is a zap level name (debug, info, warn, error). profile selects the
// encoder: "structured" for JSON, "console" for human-readable output.
func InitCLILogger(level, profile string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch profile {
	case "", "structured":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("unknown logging profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	return nil
}

// Sync flushes buffered log entries. Safe to call on a no-op logger.
func Sync() {
	_ = CLILogger.Sync()
}

// ABOUTME: zap logger construction shared by the netaudio binaries
// ABOUTME: Console output for interactive runs, file-only output when a TUI owns the terminal
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects level and destinations.
type Options struct {
	// Level is debug, info, warn or error (default info)
	Level string

	// File appends logs to this path when set, in the same encoding as
	// the console
	File string

	// Quiet suppresses console output, for use while a TUI is running
	Quiet bool
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// New builds a logger for opts.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var zapConfig zap.Config
	if level == zapcore.DebugLevel {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zapConfig.Sampling = nil
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapConfig.OutputPaths = nil
	if !opts.Quiet {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, "stderr")
	}
	if opts.File != "" {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, opts.File)
	}
	if len(zapConfig.OutputPaths) == 0 {
		return zap.NewNop(), nil
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create zap logger: %w", err)
	}
	return logger, nil
}

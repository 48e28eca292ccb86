// Package logging builds guild's structured loggers. The console belongs
// to the printer's summary lines; every diagnostic goes to a JSON log file
// under .guild/logs so CLI and agent runs stay reviewable after the fact.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewFileLogger builds a production JSON logger writing to path, creating
// the parent directory when absent. Debug lowers the level from Info.
func NewFileLogger(path string, debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{path}
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ForRun builds the logger for one command or agent run. When the file
// sink cannot be opened it falls back to stderr rather than silencing the
// run, so a bad path still leaves a trace somewhere.
func ForRun(path string, debug bool) *zap.Logger {
	logger, err := NewFileLogger(path, debug)
	if err == nil {
		return logger
	}

	fallback, ferr := zap.NewProduction()
	if ferr != nil {
		return zap.NewNop()
	}
	fallback.Warn("file logger unavailable, logging to stderr",
		zap.String("path", path), zap.Error(err))
	return fallback
}

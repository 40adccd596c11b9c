// Package logging configures the process-wide slog logger. Analytic
// packages obtain component-scoped loggers via Component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level      slog.Level
	OutputFile string // empty = stdout only
	JSONFormat bool   // JSON handler for production, text for development
	AddSource  bool
}

var (
	initOnce sync.Once
	logFile  *os.File
)

// Initialize installs the global slog default. Safe to call once per
// process; later calls are no-ops.
func Initialize(cfg Config) error {
	var initErr error
	initOnce.Do(func() {
		writers := []io.Writer{os.Stdout}

		if cfg.OutputFile != "" {
			dir := filepath.Dir(cfg.OutputFile)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				initErr = fmt.Errorf("create log directory %s: %w", dir, err)
				return
			}
			f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				initErr = fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
				return
			}
			logFile = f
			writers = append(writers, f)
		}

		out := io.MultiWriter(writers...)
		opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

		var handler slog.Handler
		if cfg.JSONFormat {
			handler = slog.NewJSONHandler(out, opts)
		} else {
			handler = slog.NewTextHandler(out, opts)
		}
		slog.SetDefault(slog.New(handler))
	})
	return initErr
}

// Component returns a logger scoped to one pipeline component.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Close releases the log file, if any.
func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures structured logging for gateway services.
//
// Built on the standard slog package: JSON records to stdout for container
// log collection, optionally teed to a per-service log file. The returned
// logger is installed as the process default so package-level slog calls
// inherit the configuration.
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must keep raw user
// identities, API keys, and answer text out of log attributes; log hashes
// or lengths instead.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config controls logger construction.
//
// # Fields
//
//   - Service: Service name attached to every record (e.g. "chat-gateway").
//   - Level: Minimum level; records below it are dropped.
//   - LogDir: When non-empty, records are also written to
//     {LogDir}/{Service}_{date}.log. The directory is created if missing.
type Config struct {
	Service string
	Level   slog.Level
	LogDir  string
}

// Logger wraps the configured slog.Logger with the resources backing it.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Setup builds a logger from the config and installs it as the process
// default.
//
// # Outputs
//
//   - *Logger: Close must be called on shutdown when file logging is on.
//   - error: Non-nil when the log directory or file cannot be created;
//     stdout logging is never the failure.
func Setup(cfg Config) (*Logger, error) {
	var out io.Writer = os.Stdout
	var file *os.File

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		name := fmt.Sprintf("%s_%s.log", cfg.Service, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	logger := slog.New(handler).With("service", cfg.Service)
	slog.SetDefault(logger)

	return &Logger{Logger: logger, file: file}, nil
}

// Close releases the log file, if any. Idempotent.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel maps a level name from the environment to a slog.Level.
// Unknown names fall back to Info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

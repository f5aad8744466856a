// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for LedgerMirror components.
//
// The package is a thin layer over Go's standard library slog. Every
// component logs key-value pairs through a *slog.Logger carrying a fixed
// "service" attribute, so log lines from the syncer, the query engine, and
// the index store can be separated downstream without parsing messages.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "mirror-syncer"})
//	logger.Info("sync pass started", "watermark", watermark)
//	logger.Error("page fetch failed", "cursor", cursor, "error", err)
//
// # Log Levels
//
// Four levels are supported, matching slog conventions:
//
//   - Debug: development troubleshooting, verbose output
//   - Info: normal operations (pass start/end, documents indexed)
//   - Warn: recoverable issues (retry attempts, degraded filters)
//   - Error: operation failures the system survives
//
// The minimum level is taken from Config.Level, or from the
// LEDGERMIRROR_LOG_LEVEL environment variable ("debug", "info", "warn",
// "error") when Config.Level is empty.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config configures logger construction.
//
// A zero-value Config creates a JSON logger at Info level writing to
// stderr with an empty service attribute.
type Config struct {
	// Service names the component, e.g. "mirror-syncer". Attached to
	// every log line as the "service" attribute.
	Service string

	// Level is the minimum level: "debug", "info", "warn" or "error".
	// Empty means: consult LEDGERMIRROR_LOG_LEVEL, then default to "info".
	Level string

	// Text switches from JSON output to human-readable text output.
	// JSON is the default because log lines are normally collected.
	Text bool
}

// New constructs a *slog.Logger per Config.
//
// The returned logger writes to stderr (Unix convention: stdout stays
// clean for data). It never fails; an unrecognized level falls back to
// Info.
func New(cfg Config) *slog.Logger {
	level := cfg.Level
	if level == "" {
		level = os.Getenv("LEDGERMIRROR_LOG_LEVEL")
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if cfg.Text {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Default returns a logger suitable for components that were not handed
// one explicitly. Equivalent to New(Config{}).
func Default() *slog.Logger {
	return New(Config{})
}

// parseLevel maps a level name to slog.Level, defaulting to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

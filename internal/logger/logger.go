// Package logger provides the structured slog logger used across the
// dispatcher. Logs are written in JSON format.
//
// Log files are organized as:
//
//	<logDir>/system.log      application-level events, rotated by size
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for system.log.
const (
	DefaultMaxSizeMB  = 50
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 28
)

// Options controls rotation of the system log. Zero values fall back to the
// defaults above.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stderr duplicates every record to standard error.
	Stderr bool
}

// NewSystemLogger creates a JSON slog.Logger that writes to <logDir>/system.log.
// The directory is created if it does not exist. The returned closer flushes
// and closes the rotating file.
func NewSystemLogger(logDir string, level slog.Level, opts Options) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory %q: %w", logDir, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "system.log"),
		MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
		MaxAge:     orDefault(opts.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   true,
	}

	var out io.Writer = file
	if opts.Stderr {
		out = io.MultiWriter(file, os.Stderr)
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), file, nil
}

// ParseLevel maps a LOG_LEVEL value to a slog.Level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
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

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var Logger *slog.Logger

func init() {
	SetLevel(slog.LevelInfo)
}

func SetLevel(level slog.Level) {
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// Configure wires the package logger to stdout and, when toFile is set, to a
// dated file under dir as well. Failure to open the log file falls back to
// stdout-only logging with a warning on the resulting logger.
func Configure(level slog.Level, toFile bool, dir string) {
	if !toFile {
		SetLevel(level)
		return
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		SetLevel(level)
		Logger.Warn("log directory unavailable, logging to stdout only", "dir", dir, "error", err.Error())
		return
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		SetLevel(level)
		Logger.Warn("log file unavailable, logging to stdout only", "path", path, "error", err.Error())
		return
	}

	w := io.MultiWriter(os.Stdout, f)
	Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

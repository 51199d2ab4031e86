// Package logger sets up the process-wide slog logger.
//
// Initialize is called once at startup; the package-level helpers and Get
// are safe to use before that and fall back to slog.Default.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Config selects log level, format and destination.
type Config struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string `toml:"level"`
	// Format is text or json. Empty means text.
	Format string `toml:"format"`
	// Output is stderr, stdout or a file path. Empty means stderr.
	Output string `toml:"output"`
}

var global atomic.Pointer[slog.Logger]

// Initialize installs the logger described by cfg as the package and slog
// default. The returned closer releases a log file, if one was opened.
func Initialize(cfg Config) (io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	h, err := NewHandler(w, cfg.Format, level)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	l := slog.New(h)
	global.Store(l)
	slog.SetDefault(l)
	return closer, nil
}

// NewHandler returns a text or json handler writing to w.
func NewHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "", "text", "console":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (expected text|json)", format)
	}
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", s)
	}
}

// Get returns the global logger.
func Get() *slog.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// With returns the global logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Info(msg string, args ...any) { Get().Info(msg, args...) }
func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

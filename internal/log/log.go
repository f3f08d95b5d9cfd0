// Package log provides structured logging for go-seer.
// It wraps slog and optionally tees output into a rotating file.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the global logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// JSON selects the JSON handler. GO_ENV=production also enables it.
	JSON bool
	// File, when set, receives a copy of every record with size-based
	// rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu     sync.Mutex
	logger *slog.Logger
	level  = new(slog.LevelVar)
	rotate *lumberjack.Logger
)

// ParseLevel maps a level name to a slog.Level, defaulting to info.
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

// Init configures the global logger for stdout only.
func Init(lvl string) {
	Setup(os.Stdout, Options{Level: lvl})
}

// Setup (re)configures the global logger writing to w and, if opts.File is
// set, to a rotating file. It also installs the logger as slog's default.
func Setup(w io.Writer, opts Options) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if rotate != nil {
		_ = rotate.Close()
		rotate = nil
	}
	if opts.File != "" {
		rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(w, rotate)
	}

	level.Set(ParseLevel(opts.Level))
	hopts := &slog.HandlerOptions{Level: level}

	if opts.JSON || os.Getenv("GO_ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(w, hopts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, hopts))
	}
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of the configured logger in place.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// Close flushes and closes the rotating file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if rotate == nil {
		return nil
	}
	err := rotate.Close()
	rotate = nil
	return err
}

// L returns the global logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		return Setup(os.Stdout, Options{Level: "info"})
	}
	return l
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { L().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { L().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { L().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { L().Error(msg, args...) }

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger { return L().With(args...) }

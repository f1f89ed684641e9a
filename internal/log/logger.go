package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Rotation limits for the file sink: 5 MB per file, up to 3 retained
// rotations.
const (
	maxLogSizeMB  = 5
	maxLogBackups = 3
)

// Setup initializes the global logger. Logs are written as JSON to stdout
// and, when filePath is non-empty, to a size-capped rotating file.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level, filePath string) {
	once.Do(func() {
		var l slog.Level
		switch strings.ToUpper(level) {
		case "DEBUG":
			l = slog.LevelDebug
		case "WARN":
			l = slog.LevelWarn
		case "ERROR":
			l = slog.LevelError
		default:
			l = slog.LevelInfo
		}

		var out io.Writer = os.Stdout
		if filePath != "" {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   filePath,
				MaxSize:    maxLogSizeMB,
				MaxBackups: maxLogBackups,
			})
		}

		opts := &slog.HandlerOptions{
			Level: l,
		}
		handler := slog.NewJSONHandler(out, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithSource returns a logger with the webhook source field set.
func WithSource(name string) *slog.Logger {
	return Get().With(slog.String("source", name))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

package nodelib

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat controls the output format of the supervisor's logger.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LoggingConfig controls supervisor log output.
type LoggingConfig struct {
	// Format selects the log output format. Default: "text".
	Format LogFormat `yaml:"format,omitempty"`

	// Level is the minimum log level. Default: "info".
	Level string `yaml:"level,omitempty"`

	// Fields are extra key-value pairs included in every log line.
	Fields map[string]string `yaml:"fields,omitempty"`
}

// DefaultLoggingConfig returns sensible logging defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Format: LogFormatText,
		Level:  "info",
	}
}

// Logger keeps the printf-style surface the supervisor uses while emitting
// structured records through slog.
type Logger struct {
	inner *slog.Logger
}

// NewLogger creates a Logger based on the configuration.
func NewLogger(w io.Writer, config LoggingConfig) *Logger {
	if w == nil {
		w = os.Stdout
	}
	if config.Format == "" {
		config.Format = LogFormatText
	}
	opts := &slog.HandlerOptions{Level: parseLevel(config.Level)}

	var handler slog.Handler
	if config.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	inner := slog.New(handler).With("logger", "node-supervisor")
	for k, v := range config.Fields {
		inner = inner.With(k, v)
	}
	return &Logger{inner: inner}
}

// DiscardLogger returns a Logger that drops everything.
func DiscardLogger() *Logger {
	return NewLogger(io.Discard, LoggingConfig{Level: "error"})
}

// With returns a Logger that adds the given attribute to every record.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{inner: l.inner.With(key, value)}
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.inner
}

// Printf logs a formatted message.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.inner.Info(fmt.Sprintf(format, args...))
}

// Println logs a message.
func (l *Logger) Println(msg string) {
	l.inner.Info(msg)
}

// Debugf logs a debug-level formatted message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.inner.Debug(fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level formatted message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.inner.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs an error-level formatted message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.inner.Error(fmt.Sprintf(format, args...))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

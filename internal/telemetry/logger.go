package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Logger provides structured logging backed by log/slog. Loggers derived
// with With or Component share the parent's level and open files.
type Logger struct {
	inner *slog.Logger
	level *slog.LevelVar
	sink  *sink
}

// sink owns the files a logger tree writes to.
type sink struct {
	mu    sync.Mutex
	files []*os.File
}

// LoggerOptions configures NewLoggerWithOptions and OpenLogger.
type LoggerOptions struct {
	Level  string    // debug, info, warn, error
	Format string    // text, json
	Output io.Writer // defaults to os.Stderr
	File   string    // optional path, appended to alongside Output
}

// NewLogger creates a text logger on stderr at info, or debug when verbose.
func NewLogger(verbose bool) *Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	return NewLoggerWithOptions(LoggerOptions{Level: level})
}

// NewLoggerWithOptions creates a logger that writes to opts.Output only.
// opts.File is ignored; use OpenLogger when a log file is configured.
func NewLoggerWithOptions(opts LoggerOptions) *Logger {
	return build(opts, &sink{})
}

// OpenLogger creates a logger and, when opts.File is set, opens that file
// for appending. Close releases it.
func OpenLogger(opts LoggerOptions) (*Logger, error) {
	s := &sink{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.files = append(s.files, f)
	}
	return build(opts, s), nil
}

func build(opts LoggerOptions, s *sink) *Logger {
	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	if len(s.files) > 0 {
		writers := []io.Writer{out}
		for _, f := range s.files {
			writers = append(writers, f)
		}
		out = io.MultiWriter(writers...)
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))
	handlerOpts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = slog.NewTextHandler(out, handlerOpts)
	}
	return &Logger{inner: slog.New(h), level: level, sink: s}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return NewLoggerWithOptions(LoggerOptions{Level: "error", Output: io.Discard})
}

// ParseLevel maps a config level string to a slog level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
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

// SetLevel changes the level for this logger and everything derived from it.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// With returns a logger that adds keyvals to every record.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{inner: l.inner.With(keyvals...), level: l.level, sink: l.sink}
}

// Component tags records with the subsystem that produced them.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close closes the log file, if any. Derived loggers share the file, so
// only the root should be closed. Safe to call more than once.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	var firstErr error
	for _, f := range l.sink.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.sink.files = nil
	return firstErr
}

// Slog returns the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.inner
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.inner.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.inner.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.inner.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.inner.Error(msg, keyvals...) }

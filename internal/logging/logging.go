// Package logging configures the process logger. Records go to a log file so
// they never interleave with chat output, and are mirrored into an in-memory
// Buffer that the chat UI can show on demand.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects the handler built by Setup
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // empty discards output; "-" writes to stderr
}

// Logger bundles the configured logger with its buffer and sink
type Logger struct {
	*slog.Logger
	Buffer *Buffer
	closer io.Closer
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLevel converts a level name into an slog.Level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup builds a logger according to opts
func Setup(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var (
		w      io.Writer = io.Discard
		closer io.Closer
	)
	switch opts.File {
	case "":
	case "-":
		w = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		base = slog.NewTextHandler(w, handlerOpts)
	case "json":
		base = slog.NewJSONHandler(w, handlerOpts)
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	buffer := NewBuffer(BufferSize)
	return &Logger{
		Logger: slog.New(NewBufferedHandler(buffer, base)),
		Buffer: buffer,
		closer: closer,
	}, nil
}

// Discard returns a logger that drops everything, for tests
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Package logging provides centralized logging for attomail.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// ErrInvalidLogfile is returned for a -X argument other than stderr.
var ErrInvalidLogfile = errors.New("invalid logfile")

// ValidLogfiles are the only accepted -X arguments. Both mean stderr: a
// privileged process must not be talked into opening arbitrary files.
var ValidLogfiles = []string{"-", "/dev/stderr"}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New creates a new slog.Logger writing text records to w.
func New(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	handler := slog.NewTextHandler(w, opts)
	return slog.New(handler)
}

// ValidateLogfile checks a -X argument. Every accepted value means the
// logger's normal destination, stderr.
func ValidateLogfile(path string) error {
	for _, v := range ValidLogfiles {
		if path == v {
			return nil
		}
	}
	return fmt.Errorf("%w %q: only %s are allowed", ErrInvalidLogfile, path, strings.Join(ValidLogfiles, ", "))
}

// WithDelivery returns a new logger with delivery-specific attributes.
func WithDelivery(logger *slog.Logger, sender, recipient string) *slog.Logger {
	return logger.With(
		slog.String("sender", sender),
		slog.String("recipient", recipient),
	)
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

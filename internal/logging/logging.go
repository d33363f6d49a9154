// Package logging configures log/slog for triad.
//
// Usage:
//
//	logging.Init(os.Stderr, slog.LevelInfo, false)
//	log := logging.Component("saga")
//	log.Warn("compensation failed", "operation_id", id, "kind", kind, "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger = slog.Default()
)

// Init installs a text or JSON handler writing to w at level and makes it
// the slog default.
func Init(w io.Writer, level slog.Level, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return InitWithHandler(handler)
}

// InitWithHandler installs a custom handler. Tests use it to capture output.
func InitWithHandler(handler slog.Handler) *slog.Logger {
	l := slog.New(handler)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

// Logger returns the current root logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns a logger tagged with component=name.
func Component(name string) *slog.Logger {
	return Logger().With("component", name)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps debug|info|warn|error to a slog level.
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
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type contextKey int

const contextKeyOperationID contextKey = iota

// ContextWithOperationID tags ctx so FromContext loggers carry operation_id.
func ContextWithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyOperationID, id)
}

// FromContext enriches base with values stored on ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id, ok := ctx.Value(contextKeyOperationID).(string); ok && id != "" {
		return base.With("operation_id", id)
	}
	return base
}

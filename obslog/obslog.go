// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package obslog implements a leveled logger with a runtime-adjustable
// threshold, persisted to a bounded application log entity. It wraps
// log/slog, bridged onto an OTel LoggerProvider via otelslog.
package obslog

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/store"
)

// DefaultRecentLimit is the default N for RecentAppLogs reads.
const DefaultRecentLimit = 1000

// PersistingHandler fans every log record out to stdout JSON, to the OTel
// bridge, and to the bounded application_logs bucket in store, honoring a
// runtime-adjustable slog.LevelVar.
type PersistingHandler struct {
	component string
	store     *store.Store
	level     *slog.LevelVar
	stdout    slog.Handler
	otel      slog.Handler
}

// NewPersistingHandler builds a handler for component, persisting records
// at or above level.
func NewPersistingHandler(component string, st *store.Store, level *slog.LevelVar) *PersistingHandler {
	return &PersistingHandler{
		component: component,
		store:     st,
		level:     level,
		stdout:    slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
		otel:      otelslog.NewHandler(component),
	}
}

func (h *PersistingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PersistingHandler) Handle(ctx context.Context, r slog.Record) error {
	stdoutErr := h.stdout.Handle(ctx, r)
	otelErr := h.otel.Handle(ctx, r)

	if err := h.store.AppLog(domain.ApplicationLogEntry{
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: h.component,
		Timestamp: r.Time,
	}); err != nil {
		// Persistence failures must not take down the caller's logging
		// path; stdout already has the record.
		h.stdout.Handle(ctx, slog.Record{Time: r.Time, Level: slog.LevelError, Message: "obslog: failed to persist log entry"})
	}

	if stdoutErr != nil {
		return stdoutErr
	}
	return otelErr
}

func (h *PersistingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.stdout = h.stdout.WithAttrs(attrs)
	clone.otel = h.otel.WithAttrs(attrs)
	return &clone
}

func (h *PersistingHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.stdout = h.stdout.WithGroup(name)
	clone.otel = h.otel.WithGroup(name)
	return &clone
}

// Logger bundles the *slog.Logger with the level control and store read
// read/clear API.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	store *store.Store
}

// New constructs a Logger for component, initializing its level from the
// persisted log_level key (defaulting to info on first boot).
func New(component string, st *store.Store) (*Logger, error) {
	persisted, err := st.LogLevel()
	if err != nil {
		return nil, err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(persisted))

	handler := NewPersistingHandler(component, st, levelVar)
	return &Logger{
		Logger: slog.New(handler),
		level:  levelVar,
		store:  st,
	}, nil
}

// SetLevel updates the runtime threshold in memory and persists it, so it
// survives restarts's round-trip property.
func (l *Logger) SetLevel(level slog.Level) error {
	l.level.Set(level)
	return l.store.SetLogLevel(levelName(level))
}

// Level returns the current effective threshold.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// RecentAppLogs returns the most recent n persisted entries, newest first.
func (l *Logger) RecentAppLogs(n int) ([]domain.ApplicationLogEntry, error) {
	if n <= 0 {
		n = DefaultRecentLimit
	}
	return l.store.RecentAppLogs(n)
}

// ClearAppLogs deletes every persisted log entry.
func (l *Logger) ClearAppLogs() error {
	return l.store.ClearAppLogs()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelName(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "debug"
	case l <= slog.LevelInfo:
		return "info"
	case l <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

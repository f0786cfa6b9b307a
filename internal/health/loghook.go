package health

import (
	"context"
	"log/slog"
)

// LogHook is a slog.Handler middleware that feeds error-level records into a
// Tracker before delegating to the wrapped handler.
type LogHook struct {
	inner   slog.Handler
	tracker *Tracker
}

// NewLogHook wraps inner so every error-level record updates tracker.
func NewLogHook(inner slog.Handler, tracker *Tracker) *LogHook {
	return &LogHook{inner: inner, tracker: tracker}
}

func (h *LogHook) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *LogHook) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.tracker.RecordError(r.Message)
	}
	return h.inner.Handle(ctx, r)
}

func (h *LogHook) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHook{inner: h.inner.WithAttrs(attrs), tracker: h.tracker}
}

func (h *LogHook) WithGroup(name string) slog.Handler {
	return &LogHook{inner: h.inner.WithGroup(name), tracker: h.tracker}
}

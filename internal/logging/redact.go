package logging

import (
	"context"
	"log/slog"
)

// maskedValue replaces sensitive attribute values.
const maskedValue = "[MASKED]"

// redactingHandler wraps another handler and masks the values of sensitive
// attribute keys before they are written.
type redactingHandler struct {
	inner slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = redactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(masked)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		masked := make([]any, 0, len(members))
		for _, m := range members {
			masked = append(masked, redactAttr(m))
		}
		return slog.Group(a.Key, masked...)
	}
	if sensitiveKeys[a.Key] {
		return slog.String(a.Key, maskedValue)
	}
	return a
}

package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID  = "trace_id"
	attrSpanID   = "span_id"
	attrChangeID = "change_id"
	attrService  = "service"
	attrEnv      = "env"
	attrMode     = "mode"
)

type changeIDKey struct{}

// WithChangeID binds a change-set id to ctx. Records logged with the returned
// context carry it as change_id.
func WithChangeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, changeIDKey{}, id)
}

// ChangeIDFrom returns the change-set id bound by WithChangeID.
func ChangeIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(changeIDKey{}).(string)

	return id, ok && id != ""
}

// LogHandler is the slog handler behind every cochange logger. It adds the
// active span's trace_id and span_id and the change-set being processed.
// service, mode and env are bound at construction, before any group.
type LogHandler struct {
	inner slog.Handler
}

// NewLogHandler wraps inner. An empty env is omitted.
func NewLogHandler(inner slog.Handler, service, env string, appMode AppMode) *LogHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(appMode)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	return &LogHandler{inner: inner.WithAttrs(attrs)}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	if id, ok := ChangeIDFrom(ctx); ok {
		record.AddAttrs(slog.String(attrChangeID, id))
	}

	err := h.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("log handler: %w", err)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{inner: h.inner.WithGroup(name)}
}

package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/cochange/internal/observability"
)

func TestFilteringTracerProvider_SuppressesPerChangeSetSpans(t *testing.T) {
	t.Parallel()

	exporter, tp := newTracer(t)
	filtered := observability.NewFilteringTracerProvider(tp)

	tracer := filtered.Tracer("cochange")

	_, run := tracer.Start(context.Background(), "cochange.build")
	_, fetch := tracer.Start(context.Background(), observability.SpanChangeSetFetch)
	_, apply := tracer.Start(context.Background(), observability.SpanChangeSetApply)

	fetch.End()
	apply.End()
	run.End()

	_, gitlog := filtered.Tracer(observability.TracerGitLog).Start(context.Background(), "walk")
	gitlog.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "cochange.build", spans[0].Name)
	assert.False(t, fetch.SpanContext().IsValid())
}

func TestAttributeFilter_DropsUnknownAndBlockedKeys(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer

	exporter := tracetest.NewInMemoryExporter()
	filter := observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), slog.New(slog.NewTextHandler(&logs, nil)))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(filter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(
		attribute.String("cochange.change_id", "42"),
		attribute.Int("changeset.files", 3),
		attribute.String("source.token", "secret"),
		attribute.String("user.email", "a@b.c"),
		attribute.Bool("error", true),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	keys := make(map[string]bool)
	for _, kv := range spans[0].Attributes {
		keys[string(kv.Key)] = true
	}

	assert.True(t, keys["cochange.change_id"])
	assert.True(t, keys["changeset.files"])
	assert.True(t, keys["error"])
	assert.False(t, keys["source.token"])
	assert.False(t, keys["user.email"])
	assert.Contains(t, logs.String(), "span attribute dropped")
}

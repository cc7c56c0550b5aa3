package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/cochange/internal/observability"
)

func TestInit_NoopWhenNothingConfigured(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	ctx, span := providers.Tracer.Start(context.Background(), "noop")
	span.End()
	assert.NotNil(t, ctx)

	require.NoError(t, providers.Shutdown(context.Background()))
	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_PrometheusExposesInstruments(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true
	cfg.Mode = observability.ModeServe

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })
	require.NotNil(t, providers.MetricsHandler)

	bm, err := observability.NewBuildMetrics(providers.Meter)
	require.NoError(t, err)

	bm.ChangeSetApplied(context.Background(), 3, 1, false)
	bm.ChangeSetSkipped(context.Background())

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	body := rec.Body.String()
	assert.Contains(t, body, "target_info")
	assert.Contains(t, body, "cochange_build_changesets")
	assert.Contains(t, body, `outcome="skipped"`)
}

func TestInitWithWriter_LogsThroughLogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.Environment = "test"

	providers, err := observability.InitWithWriter(cfg, &buf)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	providers.Logger.InfoContext(context.Background(), "hello", "change_id", "42")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "cochange", record["service"])
	assert.Equal(t, "cli", record["mode"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "42", record["change_id"])
}

func TestInitWithWriter_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogLevel = slog.LevelWarn

	providers, err := observability.InitWithWriter(cfg, &buf)
	require.NoError(t, err)

	providers.Logger.Info("dropped")
	assert.Empty(t, buf.String())

	providers.Logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestBuildResource_Attributes(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Mode = observability.ModeMCP

	res, err := observability.BuildResourceForTest(cfg)
	require.NoError(t, err)

	assertResource(t, res, string(semconv.ServiceNameKey), "cochange")
	assertResource(t, res, string(semconv.ServiceVersionKey), "1.2.3")
	assertResource(t, res, "app.mode", "mcp")
}

func TestSelectSampler(t *testing.T) {
	t.Parallel()

	assert.True(t, observability.SampledForTest(observability.DefaultConfig()))

	cfg := observability.DefaultConfig()
	cfg.SampleRatio = 1e-12
	assert.False(t, observability.SampledForTest(cfg))
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{"empty", "", nil},
		{"single", "key=value", map[string]string{"key": "value"}},
		{"multiple", "k1=v1,k2=v2", map[string]string{"k1": "v1", "k2": "v2"}},
		{"spaces", " k1 = v1 , k2 = v2 ", map[string]string{"k1": "v1", "k2": "v2"}},
		{"no_equals", "invalid", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, observability.ParseOTLPHeaders(tt.input))
		})
	}
}

func TestLogHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewLogHandler(inner, "svc", "", observability.ModeServe)).WithGroup("req")

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "served", "path", "/")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "svc", record["service"])
	assert.Equal(t, "serve", record["mode"])
	assert.NotContains(t, record, "env")

	group, ok := record["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/", group["path"])
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", group["trace_id"])
}

func TestLogHandler_NoSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(observability.NewLogHandler(slog.NewJSONHandler(&buf, nil), "svc", "prod", observability.ModeCLI))
	logger.Info("plain")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "span_id")
	assert.Equal(t, "prod", record["env"])
}

func TestLogHandler_BindsChangeID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(observability.NewLogHandler(slog.NewJSONHandler(&buf, nil), "svc", "", observability.ModeCLI))

	ctx := observability.WithChangeID(context.Background(), "pr-42")
	logger.InfoContext(ctx, "change-set applied", "files", 3)
	logger.InfoContext(observability.WithChangeID(context.Background(), ""), "unbound")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var bound, unbound map[string]any

	require.NoError(t, json.Unmarshal(lines[0], &bound))
	require.NoError(t, json.Unmarshal(lines[1], &unbound))

	assert.Equal(t, "pr-42", bound["change_id"])
	assert.NotContains(t, unbound, "change_id")

	id, ok := observability.ChangeIDFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "pr-42", id)

	_, ok = observability.ChangeIDFrom(context.Background())
	assert.False(t, ok)
}

func assertResource(t *testing.T, res *resource.Resource, key, want string) {
	t.Helper()

	for _, kv := range res.Attributes() {
		if string(kv.Key) == key {
			assert.Equal(t, want, kv.Value.AsString())

			return
		}
	}

	t.Errorf("resource attribute %q not found", key)
}

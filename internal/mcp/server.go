// Package mcp exposes a co-change snapshot to Model Context Protocol clients
// as a small set of query tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
	"github.com/Sumatoshi-tech/cochange/internal/snapshot"
	"github.com/Sumatoshi-tech/cochange/pkg/version"
)

const (
	serverName = "cochange"
	toolCount  = 3

	spanPrefix     = "mcp."
	traceIDMetaKey = "trace_id"
)

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// Tracer is an optional tracer for per-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server answers co-change queries over one snapshot.
type Server struct {
	inner   *mcpsdk.Server
	snap    snapshot.Snapshot
	proc    *cochange.Processor
	metrics *observability.REDMetrics
	tracer  trace.Tracer
	tools   []string
	mu      sync.RWMutex
}

// NewServer decodes snap and registers the query tools. A snapshot that does
// not decode is rejected.
func NewServer(snap snapshot.Snapshot, deps ServerDeps) (*Server, error) {
	proc, err := snapshot.Decode(snap, cochange.Options{})
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	srv := &Server{
		inner:   mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version.Version}, opts),
		snap:    snap,
		proc:    proc,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		tools:   make([]string, 0, toolCount),
	}

	srv.registerTools()

	return srv, nil
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := slices.Clone(s.tools)
	slices.Sort(names)

	return names
}

// Run serves on stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunWithTransport(ctx, &mcpsdk.StdioTransport{})
}

// RunWithTransport serves on the given transport until ctx is canceled or
// the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

func (s *Server) registerTools() {
	addTool(s, ToolNameNeighbors, neighborsToolDescription, s.handleNeighbors)
	addTool(s, ToolNameWeight, weightToolDescription, s.handleWeight)
	addTool(s, ToolNameSummary, summaryToolDescription, s.handleSummary)
}

type toolHandler[Input any] func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error)

func addTool[Input any](s *Server, name, description string, handler toolHandler[Input]) {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, mcpsdk.ToolHandlerFor[Input, ToolOutput](withMetrics(s.metrics, name, withTracing(s.tracer, name, handler))))

	s.mu.Lock()
	s.tools = append(s.tools, name)
	s.mu.Unlock()
}

// withTracing opens one span per call and appends the trace id to the
// result when the span is sampled.
func withTracing[Input any](tracer trace.Tracer, toolName string, handler toolHandler[Input]) toolHandler[Input] {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, spanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		switch {
		case err != nil:
			observability.RecordSpanError(span, err, observability.ErrTypeInternal, observability.ErrSourceServer)
		case result != nil && result.IsError:
			span.SetAttributes(attribute.String("error.type", observability.ErrTypeValidation))
		}

		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			result.Content = append(result.Content, &mcpsdk.TextContent{Text: traceIDMetaKey + "=" + sc.TraceID().String()})
		}

		return result, output, err
	}
}

// withMetrics records one RED sample per call.
func withMetrics[Input any](metrics *observability.REDMetrics, toolName string, handler toolHandler[Input]) toolHandler[Input] {
	if metrics == nil {
		return handler
	}

	op := spanPrefix + toolName

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		done := metrics.TrackInflight(ctx, op)
		defer done()

		result, output, err := handler(ctx, req, input)

		status := observability.StatusOK
		if err != nil || (result != nil && result.IsError) {
			status = observability.StatusError
		}

		metrics.RecordRequest(ctx, op, status, time.Since(start))

		return result, output, err
	}
}

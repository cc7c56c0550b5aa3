package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Error classification recorded on spans as error.type.
const (
	ErrTypePanic                 = "panic"
	ErrTypeValidation            = "validation"
	ErrTypeNotFound              = "not_found"
	ErrTypeDependencyUnavailable = "dependency_unavailable"
	ErrTypeInternal              = "internal"
)

// Error origin recorded on spans as error.source.
const (
	ErrSourceClient     = "client"
	ErrSourceServer     = "server"
	ErrSourceDependency = "dependency"
)

const (
	attrErrorType   = "error.type"
	attrErrorSource = "error.source"
	eventPanicStack = "panic.stack"
	attrStack       = "error.stack"

	httpStatusServerError = 500
)

// RecordSpanError marks span as failed and classifies err. An empty source
// is not recorded.
func RecordSpanError(span trace.Span, err error, errType, source string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	attrs := []attribute.KeyValue{attribute.String(attrErrorType, errType)}
	if source != "" {
		attrs = append(attrs, attribute.String(attrErrorSource, source))
	}

	span.SetAttributes(attrs...)
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if !sw.written {
		sw.statusCode = http.StatusOK
		sw.written = true
	}

	n, err := sw.ResponseWriter.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}

	return n, nil
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// HTTPMiddleware creates a server span per request named "METHOD /path",
// continues an incoming W3C trace, turns a handler panic into a 500 and
// writes one access log line per request.
func HTTPMiddleware(tracer trace.Tracer, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		start := time.Now()
		parentCtx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		ctx, span := tracer.Start(parentCtx, hr.Method+" "+hr.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(hr.Method),
				attribute.String("http.target", hr.URL.Path),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: rw}

		func() {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				RecordSpanError(span, fmt.Errorf("panic: %v", recovered), ErrTypePanic, ErrSourceServer)
				span.AddEvent(eventPanicStack, trace.WithAttributes(attribute.String(attrStack, string(debug.Stack()))))
				logger.ErrorContext(ctx, "handler panic", "path", hr.URL.Path, "panic", recovered)

				if !sw.written {
					http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(sw, hr.WithContext(ctx))
		}()

		if !sw.written {
			sw.statusCode = http.StatusOK
		}

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.statusCode))

		if sw.statusCode >= httpStatusServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
		}

		logger.InfoContext(ctx, "http.request",
			"method", hr.Method,
			"path", hr.URL.Path,
			"status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// HTTPHandler records RED metrics for every request under op.
func (rm *REDMetrics) HTTPHandler(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		start := time.Now()
		done := rm.TrackInflight(hr.Context(), op)

		sw := &statusWriter{ResponseWriter: rw}
		next.ServeHTTP(sw, hr)
		done()

		status := StatusOK
		if sw.statusCode >= httpStatusServerError {
			status = StatusError
		}

		rm.RecordRequest(hr.Context(), op, status, time.Since(start))
	})
}

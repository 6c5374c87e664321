// Package middleware provides HTTP middleware for admin authentication,
// OpenTelemetry tracing, and other cross-cutting concerns.
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/equitra/swingscan-go/internal/telemetry"
)

// routeSpanName names a span by the matched route template, falling back
// to the bare method when gin matched nothing.
func routeSpanName(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return c.Request.Method + " " + route
	}
	return c.Request.Method
}

// stampResponse records the response attributes shared by every traced
// request and returns the status code for the caller's status decision.
func stampResponse(span trace.Span, c *gin.Context, start time.Time, attrs ...attribute.KeyValue) int {
	statusCode := c.Writer.Status()
	attrs = append(attrs,
		attribute.Int("http.status_code", statusCode),
		attribute.Int64("http.response.time_ms", time.Since(start).Milliseconds()),
	)
	span.SetAttributes(attrs...)
	return statusCode
}

// TelemetryMiddleware traces API requests. Span names use the matched
// route template so one scan endpoint does not fan out into a span name
// per run ID.
func TelemetryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Continue a trace started by the caller, if any
		ctx := otel.GetTextMapPropagator().Extract(
			c.Request.Context(),
			propagation.HeaderCarrier(c.Request.Header),
		)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", c.Request.URL.Path),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		if route := c.FullPath(); route != "" {
			attrs = append(attrs, attribute.String("http.route", route))
		}

		ctx, span := telemetry.GetHTTPTracer().Start(
			ctx,
			routeSpanName(c),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		statusCode := stampResponse(span, c, start,
			attribute.Int64("http.response.size_bytes", int64(c.Writer.Size())))
		if statusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// RecordError records an error on the span of the current request.
func RecordError(c *gin.Context, err error, description string) {
	span := trace.SpanFromContext(c.Request.Context())
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, description)
	}
}

// AddSpanAttribute adds an attribute to the span of the current request.
func AddSpanAttribute(c *gin.Context, key string, value interface{}) {
	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		return
	}
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	default:
		span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", value)))
	}
}

// StartSpan starts an internal child span under the current request and
// rebinds the request context to it. Callers own span.End.
func StartSpan(c *gin.Context, name string) (context.Context, trace.Span) {
	tracer := telemetry.GetHTTPTracer()
	ctx, span := tracer.Start(c.Request.Context(), name, trace.WithSpanKind(trace.SpanKindInternal))
	c.Request = c.Request.WithContext(ctx)
	return ctx, span
}

// ProbeTelemetryMiddleware traces liveness and readiness probes with a
// trimmed attribute set, keeping probe spans cheap since they arrive on
// a schedule.
func ProbeTelemetryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := telemetry.GetHTTPTracer().Start(
			c.Request.Context(),
			"Probe "+c.Request.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		statusCode := stampResponse(span, c, start,
			attribute.String("probe.status", probeStatus(c.Writer.Status())))
		if statusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("probe returned HTTP %d", statusCode))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// probeStatus buckets an HTTP code into the states the probe dashboards
// group by.
func probeStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "healthy"
	case code == 503:
		return "not_ready"
	case code >= 500:
		return "failing"
	default:
		return "unknown"
	}
}

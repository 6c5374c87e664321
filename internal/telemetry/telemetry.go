package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/equitra/swingscan-go/internal/logging"
)

const (
	ServiceName    = "swingscan"
	ServiceVersion = "1.0.0"
)

// TelemetryConfig holds the tracing and log export settings.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	SampleRate     float64       `yaml:"sample_rate"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MaxExportBatch int           `yaml:"max_export_batch"`
	MaxQueueSize   int           `yaml:"max_queue_size"`
	LogLevel       string        `yaml:"log_level"`
}

// DefaultConfig returns the telemetry settings used when nothing overrides
// them.
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:        true,
		OTLPEndpoint:   "http://localhost:4318",
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    "development",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
		LogLevel:       "info",
	}
}

// TelemetryProvider bundles an initialized trace pipeline with its logger
// and shutdown hook.
type TelemetryProvider struct {
	Shutdown func(context.Context) error
	logger   *slog.Logger
}

// Logger returns the provider's logger.
func (p *TelemetryProvider) Logger() *slog.Logger {
	return p.logger
}

var (
	globalMu       sync.RWMutex
	globalProvider *sdktrace.TracerProvider
	globalShutdown func(context.Context) error
	globalLogger   *slog.Logger
)

// normalizeOTLPEndpoint splits a collector base URL into the host:port and
// URL path the OTLP HTTP exporter wants, appending the traces path when the
// base does not already carry it.
func normalizeOTLPEndpoint(endpoint string) (hostport, urlPath string, insecure bool, resolved string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", false, "", fmt.Errorf("parse %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false, "", fmt.Errorf("endpoint %q must use http or https", endpoint)
	}
	if u.Host == "" {
		return "", "", false, "", fmt.Errorf("endpoint %q has no host", endpoint)
	}

	urlPath = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(urlPath, "/v1/traces") {
		urlPath += "/v1/traces"
	}

	return u.Host, urlPath, u.Scheme == "http", u.Scheme + "://" + u.Host + urlPath, nil
}

func newTraceProvider(ctx context.Context, config *TelemetryConfig) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter

	if config.OTLPEndpoint == "" {
		// No collector configured: pretty-print spans to stdout so local
		// runs still show traces.
		stdout, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = stdout
	} else {
		hostport, urlPath, insecure, _, err := normalizeOTLPEndpoint(config.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid OTLPEndpoint: %w", err)
		}

		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(hostport),
			otlptracehttp.WithURLPath(urlPath),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}

		otlp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = otlp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	batchTimeout := config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	batchOpts := []sdktrace.BatchSpanProcessorOption{
		sdktrace.WithBatchTimeout(batchTimeout),
	}
	if config.MaxExportBatch > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(config.MaxExportBatch))
	}
	if config.MaxQueueSize > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxQueueSize(config.MaxQueueSize))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	), nil
}

// InitTelemetry wires the global trace provider and the OTLP-backed logger.
// Disabled telemetry is a no-op, never an error.
func InitTelemetry(config TelemetryConfig) error {
	if !config.Enabled {
		return nil
	}

	ctx := context.Background()
	provider, err := newTraceProvider(ctx, &config)
	if err != nil {
		return err
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otlpLogger, err := logging.NewOTLPLogger(logging.OTLPConfig{
		Enabled:        config.OTLPEndpoint != "",
		Endpoint:       config.OTLPEndpoint,
		ServiceName:    config.ServiceName,
		ServiceVersion: config.ServiceVersion,
		Environment:    config.Environment,
		LogLevel:       config.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to create OTLP logger: %w", err)
	}

	globalMu.Lock()
	globalProvider = provider
	globalShutdown = otlpLogger.Shutdown
	globalLogger = otlpLogger.Logger()
	globalMu.Unlock()

	return nil
}

// InitTelemetryWithProvider builds a self-contained provider instead of
// touching the globals, for callers that manage their own lifecycle.
func InitTelemetryWithProvider(ctx context.Context, config *TelemetryConfig, logger *slog.Logger) (*TelemetryProvider, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	if !config.Enabled {
		return &TelemetryProvider{
			Shutdown: func(context.Context) error { return nil },
			logger:   logger,
		}, nil
	}

	if config.OTLPEndpoint != "" {
		if _, _, _, _, err := normalizeOTLPEndpoint(config.OTLPEndpoint); err != nil {
			return nil, fmt.Errorf("invalid OTLPEndpoint: %w", err)
		}
	}

	provider, err := newTraceProvider(ctx, config)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TelemetryProvider{
		Shutdown: provider.Shutdown,
		logger:   logger.With("service", config.ServiceName),
	}, nil
}

// Shutdown flushes and tears down the global telemetry pipeline. Safe to
// call when nothing was initialized.
func Shutdown() error {
	globalMu.Lock()
	provider := globalProvider
	loggerShutdown := globalShutdown
	globalProvider = nil
	globalShutdown = nil
	globalLogger = nil
	globalMu.Unlock()

	if provider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := provider.Shutdown(ctx)
	if loggerShutdown != nil {
		if logErr := loggerShutdown(ctx); err == nil {
			err = logErr
		}
	}
	return err
}

// GetLogger returns the OTLP-backed logger, or nil before InitTelemetry
// has run.
func GetLogger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Logger returns the OTLP-backed logger, falling back to the process
// default so callers never hold a nil logger.
func Logger() *slog.Logger {
	if l := GetLogger(); l != nil {
		return l
	}
	return slog.Default()
}

// GetTracer returns a named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// GetHTTPTracer returns the tracer for inbound HTTP handling.
func GetHTTPTracer() trace.Tracer {
	return otel.Tracer("swingscan/http")
}

// GetDatabaseTracer returns the tracer for repository calls.
func GetDatabaseTracer() trace.Tracer {
	return otel.Tracer("swingscan/database")
}

// GetBusinessTracer returns the tracer for scan pipeline stages.
func GetBusinessTracer() trace.Tracer {
	return otel.Tracer("swingscan/screener")
}

// GetCacheTracer returns the tracer for Redis operations.
func GetCacheTracer() trace.Tracer {
	return otel.Tracer("swingscan/cache")
}

// GetExternalTracer returns the tracer for outbound calls such as
// notifications.
func GetExternalTracer() trace.Tracer {
	return otel.Tracer("swingscan/external")
}

// StartSpan opens a span on the given tracer.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// SetSpanAttributes attaches attributes to a live span.
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanStatus sets the span's status code and description.
func SetSpanStatus(span trace.Span, code codes.Code, description string) {
	if span != nil {
		span.SetStatus(code, description)
	}
}

// StringAttribute builds a string span attribute.
func StringAttribute(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// StringSliceAttribute builds a string slice span attribute.
func StringSliceAttribute(key string, value []string) attribute.KeyValue {
	return attribute.StringSlice(key, value)
}

// Int64Attribute builds an int64 span attribute.
func Int64Attribute(key string, value int64) attribute.KeyValue {
	return attribute.Int64(key, value)
}

// Float64Attribute builds a float64 span attribute.
func Float64Attribute(key string, value float64) attribute.KeyValue {
	return attribute.Float64(key, value)
}

// BoolAttribute builds a bool span attribute.
func BoolAttribute(key string, value bool) attribute.KeyValue {
	return attribute.Bool(key, value)
}

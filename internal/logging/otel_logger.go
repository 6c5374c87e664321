package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTLPConfig holds the settings of the OTLP log pipeline.
type OTLPConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
}

// OTLPLogger exports structured logs to an OTLP collector through slog.
// Disabled, it degrades to JSON on stdout at the same level so call
// sites never care which pipeline is behind the logger.
type OTLPLogger struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
	shutdown func(context.Context) error
}

// NewOTLPLogger builds the log pipeline described by config.
func NewOTLPLogger(config OTLPConfig) (*OTLPLogger, error) {
	level := slogLevel(config.LogLevel)

	if !config.Enabled {
		return &OTLPLogger{
			logger:   slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	hostport, urlPath, insecure, err := logEndpoint(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid log endpoint: %w", err)
	}

	exporterOpts := []otlploghttp.Option{
		otlploghttp.WithEndpoint(hostport),
		otlploghttp.WithURLPath(urlPath),
	}
	if insecure {
		exporterOpts = append(exporterOpts, otlploghttp.WithInsecure())
	}

	ctx := context.Background()
	exporter, err := otlploghttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)

	handler := NewOTLPHandler(provider.Logger(config.ServiceName), level)
	return &OTLPLogger{
		logger:   slog.New(handler),
		provider: provider,
		shutdown: provider.Shutdown,
	}, nil
}

// Logger returns the slog logger feeding the pipeline.
func (l *OTLPLogger) Logger() *slog.Logger {
	return l.logger
}

// Shutdown flushes buffered records and tears the pipeline down.
func (l *OTLPLogger) Shutdown(ctx context.Context) error {
	if l.shutdown != nil {
		return l.shutdown(ctx)
	}
	return nil
}

// logEndpoint splits a collector URL into the host:port, URL path, and
// scheme security the exporter options want. An empty endpoint means the
// local collector default. The path is extended to the OTLP logs route
// unless the URL already names it.
func logEndpoint(endpoint string) (hostport, urlPath string, insecure bool, err error) {
	if endpoint == "" {
		endpoint = "http://localhost:4318"
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", "", false, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", false, fmt.Errorf("unsupported scheme %q in %q", parsed.Scheme, endpoint)
	}
	if parsed.Host == "" {
		return "", "", false, fmt.Errorf("no host in %q", endpoint)
	}

	urlPath = strings.TrimSuffix(parsed.Path, "/")
	if !strings.HasSuffix(urlPath, "/v1/logs") {
		urlPath += "/v1/logs"
	}

	return parsed.Host, urlPath, parsed.Scheme == "http", nil
}

// OTLPHandler adapts slog records into OTLP log records. Attributes and
// groups accumulated through the slog API are flattened onto each
// emitted record with dotted key prefixes.
type OTLPHandler struct {
	logger   otellog.Logger
	minLevel slog.Level
	group    string
	preset   []otellog.KeyValue
}

// NewOTLPHandler creates a handler emitting to the given OTLP logger,
// dropping records below minLevel.
func NewOTLPHandler(logger otellog.Logger, minLevel slog.Level) *OTLPHandler {
	return &OTLPHandler{logger: logger, minLevel: minLevel}
}

func (h *OTLPHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *OTLPHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make([]otellog.KeyValue, 0, len(h.preset)+record.NumAttrs())
	attrs = append(attrs, h.preset...)
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.convertAttr(a))
		return true
	})

	logRecord := otellog.Record{}
	logRecord.SetTimestamp(record.Time)
	logRecord.SetObservedTimestamp(time.Now())
	logRecord.SetSeverity(severityFor(record.Level))
	logRecord.SetBody(otellog.StringValue(record.Message))
	logRecord.AddAttributes(attrs...)

	h.logger.Emit(ctx, logRecord)
	return nil
}

func (h *OTLPHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		next.preset = append(next.preset, h.convertAttr(a))
	}
	return next
}

func (h *OTLPHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	if next.group == "" {
		next.group = name
	} else {
		next.group += "." + name
	}
	return next
}

func (h *OTLPHandler) clone() *OTLPHandler {
	return &OTLPHandler{
		logger:   h.logger,
		minLevel: h.minLevel,
		group:    h.group,
		preset:   append([]otellog.KeyValue(nil), h.preset...),
	}
}

func (h *OTLPHandler) convertAttr(a slog.Attr) otellog.KeyValue {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}

	value := a.Value.Resolve()
	switch value.Kind() {
	case slog.KindBool:
		return otellog.Bool(key, value.Bool())
	case slog.KindInt64:
		return otellog.Int64(key, value.Int64())
	case slog.KindUint64:
		return otellog.Int64(key, int64(value.Uint64()))
	case slog.KindFloat64:
		return otellog.Float64(key, value.Float64())
	default:
		return otellog.String(key, value.String())
	}
}

// severityFor maps slog levels, including the gaps between the named
// constants, onto OTLP severities.
func severityFor(level slog.Level) otellog.Severity {
	switch {
	case level >= slog.LevelError:
		return otellog.SeverityError
	case level >= slog.LevelWarn:
		return otellog.SeverityWarn
	case level >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

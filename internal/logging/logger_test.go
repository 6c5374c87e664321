package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

func TestNewServiceLogger_DevelopmentUsesTextFormat(t *testing.T) {
	logger := NewServiceLogger("debug", "development")

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewServiceLogger_ProductionUsesJSONFormat(t *testing.T) {
	logger := NewServiceLogger("warn", "production")

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"WARN", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.level))
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, slogLevel(tt.level))
		})
	}
}

func TestLogEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hostport string
		urlPath  string
		insecure bool
		wantErr  bool
	}{
		{"empty means local collector", "", "localhost:4318", "/v1/logs", true, false},
		{"plain base", "http://collector:4318", "collector:4318", "/v1/logs", true, false},
		{"trailing slash", "http://collector:4318/", "collector:4318", "/v1/logs", true, false},
		{"already logs path", "http://collector:4318/v1/logs", "collector:4318", "/v1/logs", true, false},
		{"custom base path", "https://otlp.example.com:4318/otlp", "otlp.example.com:4318", "/otlp/v1/logs", false, false},
		{"no scheme", "collector:4318", "", "", false, true},
		{"no host", "http://", "", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hostport, urlPath, insecure, err := logEndpoint(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hostport, hostport)
			assert.Equal(t, tt.urlPath, urlPath)
			assert.Equal(t, tt.insecure, insecure)
		})
	}
}

func TestNewOTLPLogger_Disabled(t *testing.T) {
	logger, err := NewOTLPLogger(OTLPConfig{
		Enabled:  false,
		LogLevel: "warn",
	})
	require.NoError(t, err)
	require.NotNil(t, logger.Logger())

	ctx := context.Background()
	assert.False(t, logger.Logger().Enabled(ctx, slog.LevelInfo), "the stdout fallback honors the configured level")
	assert.True(t, logger.Logger().Enabled(ctx, slog.LevelError))
	assert.NoError(t, logger.Shutdown(ctx))
}

func TestNewOTLPLogger_Enabled(t *testing.T) {
	logger, err := NewOTLPLogger(OTLPConfig{
		Enabled:        true,
		Endpoint:       "http://localhost:4318",
		ServiceName:    "swingscan-test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
		LogLevel:       "info",
	})
	require.NoError(t, err)
	require.NotNil(t, logger.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, logger.Shutdown(ctx))
}

func TestNewOTLPLogger_InvalidEndpoint(t *testing.T) {
	_, err := NewOTLPLogger(OTLPConfig{
		Enabled:  true,
		Endpoint: "collector:4318",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log endpoint")
}

// recordingOTLPLogger captures emitted records for handler assertions.
type recordingOTLPLogger struct {
	embedded.Logger
	records []otellog.Record
}

func (r *recordingOTLPLogger) Emit(_ context.Context, record otellog.Record) {
	r.records = append(r.records, record)
}

func (r *recordingOTLPLogger) Enabled(context.Context, otellog.EnabledParameters) bool {
	return true
}

func recordAttributes(record otellog.Record) map[string]otellog.Value {
	attrs := map[string]otellog.Value{}
	record.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	return attrs
}

func TestOTLPHandler_Handle(t *testing.T) {
	sink := &recordingOTLPLogger{}
	handler := NewOTLPHandler(sink, slog.LevelInfo)

	record := slog.NewRecord(time.Now(), slog.LevelWarn, "scan behind schedule", 0)
	record.AddAttrs(
		slog.String("run_id", "run-1"),
		slog.Int("pending", 42),
		slog.Bool("degraded", true),
		slog.Float64("average_score", 51.5),
	)
	require.NoError(t, handler.Handle(context.Background(), record))

	require.Len(t, sink.records, 1)
	emitted := sink.records[0]
	assert.Equal(t, otellog.SeverityWarn, emitted.Severity())
	assert.Equal(t, "scan behind schedule", emitted.Body().AsString())

	attrs := recordAttributes(emitted)
	assert.Equal(t, "run-1", attrs["run_id"].AsString())
	assert.Equal(t, int64(42), attrs["pending"].AsInt64())
	assert.Equal(t, true, attrs["degraded"].AsBool())
	assert.Equal(t, 51.5, attrs["average_score"].AsFloat64())
}

func TestOTLPHandler_EnabledRespectsMinLevel(t *testing.T) {
	handler := NewOTLPHandler(&recordingOTLPLogger{}, slog.LevelInfo)

	ctx := context.Background()
	assert.False(t, handler.Enabled(ctx, slog.LevelDebug))
	assert.True(t, handler.Enabled(ctx, slog.LevelInfo))
	assert.True(t, handler.Enabled(ctx, slog.LevelError))
}

func TestOTLPHandler_WithAttrs(t *testing.T) {
	sink := &recordingOTLPLogger{}
	handler := NewOTLPHandler(sink, slog.LevelDebug)

	scoped := handler.WithAttrs([]slog.Attr{slog.String("component", "screener")})
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "run finished", 0)
	require.NoError(t, scoped.Handle(context.Background(), record))

	require.Len(t, sink.records, 1)
	attrs := recordAttributes(sink.records[0])
	assert.Equal(t, "screener", attrs["component"].AsString())

	// The original handler is untouched by the scoped copy.
	plain := slog.NewRecord(time.Now(), slog.LevelInfo, "bare", 0)
	require.NoError(t, handler.Handle(context.Background(), plain))
	attrs = recordAttributes(sink.records[1])
	assert.NotContains(t, attrs, "component")
}

func TestOTLPHandler_WithGroupPrefixesKeys(t *testing.T) {
	sink := &recordingOTLPLogger{}
	handler := NewOTLPHandler(sink, slog.LevelDebug)

	grouped := handler.WithGroup("scan").WithGroup("filter")
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "gate counts", 0)
	record.AddAttrs(slog.Int("rejected", 7))
	require.NoError(t, grouped.Handle(context.Background(), record))

	require.Len(t, sink.records, 1)
	attrs := recordAttributes(sink.records[0])
	assert.Equal(t, int64(7), attrs["scan.filter.rejected"].AsInt64())
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		level    slog.Level
		expected otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.Level(2), otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.Level(12), otellog.SeverityError},
		{slog.Level(-8), otellog.SeverityDebug},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, severityFor(tt.level))
		})
	}
}

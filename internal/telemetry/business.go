package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScanTracer creates spans for the stages of a screening run. It wraps the
// business tracer so pipeline code records consistent attribute keys
// without repeating them at every call site. All methods are safe on the
// no-op tracer installed when telemetry is disabled.
type ScanTracer struct {
	tracer trace.Tracer
}

// NewScanTracer creates a ScanTracer on the business tracer.
func NewScanTracer() *ScanTracer {
	return &ScanTracer{tracer: GetBusinessTracer()}
}

// TraceRun starts the root span of a screening run.
func (st *ScanTracer) TraceRun(ctx context.Context, runID string) (context.Context, trace.Span) {
	ctx, span := st.tracer.Start(ctx, "screener.run_scan")
	span.SetAttributes(attribute.String("scan.run_id", runID))
	return ctx, span
}

// TraceUniverseEvaluation starts a span covering the fan-out over the
// instrument universe.
func (st *ScanTracer) TraceUniverseEvaluation(ctx context.Context, universeSize, workers int) (context.Context, trace.Span) {
	ctx, span := st.tracer.Start(ctx, "screener.evaluate_universe")
	span.SetAttributes(
		attribute.Int("scan.universe_size", universeSize),
		attribute.Int("scan.workers", workers),
	)
	return ctx, span
}

// TraceSelection starts a span covering ranking and grouping of the
// admitted candidates.
func (st *ScanTracer) TraceSelection(ctx context.Context, admitted int) (context.Context, trace.Span) {
	ctx, span := st.tracer.Start(ctx, "screener.select_candidates")
	span.SetAttributes(attribute.Int("scan.admitted", admitted))
	return ctx, span
}

// TracePersistence starts a span covering the write of a finished run.
func (st *ScanTracer) TracePersistence(ctx context.Context, runID string) (context.Context, trace.Span) {
	ctx, span := st.tracer.Start(ctx, "screener.persist_scan")
	span.SetAttributes(attribute.String("scan.run_id", runID))
	return ctx, span
}

// RecordRunOutcome attaches the counters of a finished run to its root
// span. Call it once, after the summary is final.
func (st *ScanTracer) RecordRunOutcome(span trace.Span, outcome RunOutcome) {
	span.SetAttributes(
		attribute.Int("scan.scored", outcome.Scored),
		attribute.Int("scan.insufficient_data", outcome.InsufficientData),
		attribute.Int("scan.failed", outcome.Failed),
		attribute.Int("scan.filtered_liquidity", outcome.FilteredLiquidity),
		attribute.Int("scan.filtered_score", outcome.FilteredScore),
		attribute.Int("scan.filtered_blacklist", outcome.FilteredBlacklist),
		attribute.Int("scan.candidates", outcome.Candidates),
		attribute.Float64("scan.average_score", outcome.AverageScore),
		attribute.String("scan.market_status", outcome.MarketStatus),
		attribute.Int64("scan.duration_ms", outcome.Duration.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "")
}

// RecordRunFailure marks the root span failed at the named stage.
func (st *ScanTracer) RecordRunFailure(span trace.Span, stage string, err error) {
	span.SetAttributes(attribute.String("scan.failed_stage", stage))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceDelivery starts a span for a scan summary delivery attempt.
func (st *ScanTracer) TraceDelivery(ctx context.Context, channel string) (context.Context, trace.Span) {
	ctx, span := st.tracer.Start(ctx, "notification.deliver")
	span.SetAttributes(attribute.String("notification.channel", channel))
	return ctx, span
}

// RecordDeliveryResult records the outcome of a delivery attempt.
func (st *ScanTracer) RecordDeliveryResult(span trace.Span, candidates int, err error) {
	span.SetAttributes(attribute.Int("notification.candidates", candidates))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RunOutcome carries the counters of one finished screening run for span
// attribution. It mirrors the scan summary so callers never hand the
// tracer a half-built summary struct.
type RunOutcome struct {
	Scored            int
	InsufficientData  int
	Failed            int
	FilteredLiquidity int
	FilteredScore     int
	FilteredBlacklist int
	Candidates        int
	AverageScore      float64
	MarketStatus      string
	Duration          time.Duration
}

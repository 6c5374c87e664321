package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/equitra/swingscan-go/internal/telemetry"
)

// Span attribute values are capped so exporters never ship whole queries.
const maxStatementAttrLen = 200

// TracedPool decorates a DatabasePool with one client span per statement.
// Repositories stay tracing-agnostic; the wrapper is applied at wiring
// time when telemetry is enabled.
type TracedPool struct {
	pool DatabasePool
}

// NewTracedPool wraps a pool so every statement records a span.
func NewTracedPool(pool DatabasePool) *TracedPool {
	return &TracedPool{pool: pool}
}

// QueryRow executes a query expected to return at most one row. The span
// covers the dispatch; pgx defers execution until Scan.
func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := startStatementSpan(ctx, "db.query_row", sql)
	defer span.End()
	return p.pool.QueryRow(ctx, sql, args...)
}

// Exec executes a statement without returning rows.
func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := startStatementSpan(ctx, "db.exec", sql)
	defer span.End()

	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tag, err
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	return tag, nil
}

// Query executes a multi-row query. The returned rows keep the span's
// context but the span itself ends at dispatch.
func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := startStatementSpan(ctx, "db.query", sql)
	defer span.End()

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

func startStatementSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	return telemetry.GetDatabaseTracer().Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", truncateStatement(sql)),
		),
	)
}

func truncateStatement(sql string) string {
	if len(sql) <= maxStatementAttrLen {
		return sql
	}
	return sql[:maxStatementAttrLen]
}

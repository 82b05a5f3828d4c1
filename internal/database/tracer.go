package database

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/observer/hangouts/internal/metrics"
)

type traceKey struct{}

type traceStart struct {
	at  time.Time
	sql string
}

// queryTracer records query latency and logs slow or failed statements.
// Arguments are never logged; they carry password hashes and token hashes.
type queryTracer struct {
	logger *slog.Logger
	slow   time.Duration
}

func newQueryTracer(logger *slog.Logger, slow time.Duration) *queryTracer {
	return &queryTracer{logger: logger, slow: slow}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{at: time.Now(), sql: data.SQL})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	elapsed := time.Since(start.at)
	op := operation(start.sql)

	outcome := "ok"
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		outcome = "error"
	}
	metrics.DBQueryDuration.WithLabelValues(op, outcome).Observe(elapsed.Seconds())

	switch {
	case outcome == "error":
		t.logger.Debug("query failed", "operation", op, "error", data.Err, "duration_ms", elapsed.Milliseconds())
	case elapsed >= t.slow:
		t.logger.Warn("slow query", "operation", op, "duration_ms", elapsed.Milliseconds(), "sql", compact(start.sql))
	}
}

// operation returns the leading SQL verb, lowercased, for metric labels.
func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	verb := strings.ToLower(fields[0])
	switch verb {
	case "select", "insert", "update", "delete", "with", "create", "begin", "commit", "rollback":
		return verb
	}
	return "other"
}

func compact(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

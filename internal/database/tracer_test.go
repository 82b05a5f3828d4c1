package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestOperation(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT 1", "select"},
		{"\n\t  INSERT INTO users (id) VALUES ($1)", "insert"},
		{"update refresh_tokens SET revoked_at = now()", "update"},
		{"WITH x AS (SELECT 1) SELECT * FROM x", "with"},
		{"VACUUM users", "other"},
		{"   ", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, operation(tt.sql))
		})
	}
}

func TestQueryTracer_LogsSlowQueries(t *testing.T) {
	var buf bytes.Buffer
	tracer := newQueryTracer(slog.New(slog.NewTextHandler(&buf, nil)), 0)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL:  "SELECT id\n  FROM users WHERE username = $1",
		Args: []any{"secret-arg"},
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	out := buf.String()
	assert.Contains(t, out, "slow query")
	assert.Contains(t, out, "SELECT id FROM users WHERE username = $1")
	assert.NotContains(t, out, "secret-arg")
}

func TestQueryTracer_IgnoresNoRowsAndMissingStart(t *testing.T) {
	var buf bytes.Buffer
	tracer := newQueryTracer(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), time.Hour)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: pgx.ErrNoRows})
	assert.Empty(t, buf.String())

	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{Err: errors.New("boom")})
	assert.Empty(t, buf.String(), "no start recorded")

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "DELETE FROM users"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})
	assert.Contains(t, buf.String(), "query failed")
}

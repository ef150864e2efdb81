package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
)

// QueryHook logs every query at debug level and failed queries at error
// level. sql.ErrNoRows is not a failure.
type QueryHook struct {
	logger *slog.Logger
}

var _ bun.QueryHook = (*QueryHook)(nil)

func NewQueryHook(logger *slog.Logger) *QueryHook {
	return &QueryHook{logger: logger}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	attrs := []any{
		slog.String("operation", event.Operation()),
		slog.Duration("duration", time.Since(event.StartTime)),
		slog.String("query", event.Query),
	}

	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		h.logger.ErrorContext(ctx, "query failed", append(attrs, slog.Any("error", event.Err))...)
		return
	}
	h.logger.DebugContext(ctx, "query", attrs...)
}

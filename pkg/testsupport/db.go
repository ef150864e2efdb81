package testsupport

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-entity-provider/config"
	"github.com/goliatone/go-entity-provider/database"
	"github.com/goliatone/go-entity-provider/internal/demo"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var sqliteSeq atomic.Int64

// QueryDB returns a postgres flavoured bun.DB for rendering queries with
// String(). It never connects.
func QueryDB(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("postgres", "postgres://render@localhost:1/render?sslmode=disable")
	if err != nil {
		t.Fatalf("failed to open query db: %v", err)
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { db.Close() })
	return db
}

// SQLiteDB opens a private in-memory sqlite database and creates the demo
// schema. With seed set, the demo customers and orders are inserted.
func SQLiteDB(t testing.TB, seed bool) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testsupport-%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	db, err := database.Open(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		DSN:          dsn,
		MaxOpenConns: 1,
	}, nil)
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := demo.CreateSchema(ctx, db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if seed {
		if _, _, err := demo.Seed(ctx, db); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}
	return db
}

// WhereSQL returns the WHERE expression of q, without ORDER BY, LIMIT and
// OFFSET, or "" when q has none.
func WhereSQL(q *bun.SelectQuery) string {
	return section(q.String(), " WHERE ")
}

// OrderSQL returns the ORDER BY list of q.
func OrderSQL(q *bun.SelectQuery) string {
	return section(q.String(), " ORDER BY ")
}

func section(query, keyword string) string {
	i := strings.Index(query, keyword)
	if i < 0 {
		return ""
	}
	rest := query[i+len(keyword):]
	for _, next := range []string{" ORDER BY ", " LIMIT ", " OFFSET "} {
		if j := strings.Index(rest, next); j >= 0 {
			rest = rest[:j]
		}
	}
	return rest
}

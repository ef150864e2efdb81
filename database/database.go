package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-entity-provider/config"
	"github.com/goliatone/go-entity-provider/logging"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// ErrUnsupportedDriver is returned by Open for drivers other than postgres,
// sqlite and mysql.
var ErrUnsupportedDriver = goerrors.New("unsupported database driver", goerrors.CategoryBadInput).
	WithTextCode("UNSUPPORTED_DRIVER")

// Open creates a bun.DB for cfg. It does not connect; use Ping for that.
// MySQL DSNs need parseTime=true for time columns.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*bun.DB, error) {
	driverName, dialect, err := driver(cfg.Driver)
	if err != nil {
		return nil, err
	}

	sqldb, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, dialect)
	if cfg.LogQueries {
		db.AddQueryHook(NewQueryHook(logging.OrDiscard(logger)))
	}
	return db, nil
}

func driver(name string) (string, schema.Dialect, error) {
	switch name {
	case config.DriverPostgres:
		return "postgres", pgdialect.New(), nil
	case config.DriverSQLite:
		return "sqlite3", sqlitedialect.New(), nil
	case config.DriverMySQL:
		return "mysql", mysqldialect.New(), nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, name)
	}
}

// Ping checks that the database is reachable.
func Ping(ctx context.Context, db *bun.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations
var migrations embed.FS

var ErrNotFound = errors.New("database: not found")

// DB is a migrated connection pool for one of the supported drivers:
// "sqlite3" or "pgx".
type DB struct {
	*sql.DB
	driver string
}

func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*DB, error) {
	var dialect goose.Dialect
	switch driver {
	case "sqlite3":
		dialect = goose.DialectSQLite3
	case "pgx":
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	db := &DB{DB: sqlDB, driver: driver}
	if err := db.migrate(ctx, dialect, logger); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if driver == "sqlite3" {
		// a single writer connection; SQLite serializes writes anyway
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	logger.Info("database initialized", zap.String("driver", driver))
	return db, nil
}

func (db *DB) migrate(ctx context.Context, dialect goose.Dialect, logger *zap.Logger) error {
	dir := "migrations/" + db.driver
	if db.driver == "pgx" {
		dir = "migrations/postgres"
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied", zap.String("source", r.Source.Path), zap.Duration("took", r.Duration))
	}
	return nil
}

func (db *DB) Driver() string { return db.driver }

// rebind rewrites ? placeholders to $n for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"taskmail/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// slowQueryThreshold marks queries worth logging at warn level.
const slowQueryThreshold = 500 * time.Millisecond

// Database wraps a sql.DB with query timeouts and slow-query logging.
type Database struct {
	db           *sql.DB
	driver       string
	queryTimeout time.Duration
	logger       *zap.Logger
}

// New opens a database connection based on configuration and runs pending
// migrations when auto-migrate is enabled.
func New(cfg *config.DatabaseConfig, logger *zap.Logger) (*Database, error) {
	d, err := open(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := d.Migrate(cfg.MigrationsPath); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return d, nil
}

// open creates the driver-specific connection.
func open(cfg *config.DatabaseConfig, logger *zap.Logger) (*Database, error) {
	var driverName, dsn string

	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		driverName = "sqlite3"
		dsn = sqliteDSN(cfg.DSN)
	case "mysql":
		driverName = "mysql"
		dsn = cfg.DSN
		if !strings.Contains(dsn, "parseTime=") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
	case "postgres":
		driverName = "pgx"
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxConnections
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &Database{
		db:           db,
		driver:       cfg.Driver,
		queryTimeout: timeout,
		logger:       logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return d, nil
}

// sqliteDSN appends the pragmas the service relies on: WAL for concurrent
// readers during appends, foreign keys, and a busy timeout under writer
// contention.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// ExecContext executes a query and returns the result
func (d *Database) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	result, err := d.db.ExecContext(ctx, d.Rebind(query), args...)
	d.observe(query, start, err)
	return result, err
}

// QueryContext executes a query and returns rows. As with QueryRowContext,
// the caller's context bounds the query; an injected timeout would cancel
// while the rows are still being iterated.
func (d *Database) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx, d.Rebind(query), args...)
	d.observe(query, start, err)
	return rows, err
}

// QueryRowContext executes a query and returns a single row. No timeout is
// injected here: canceling before the caller scans would close the row, so
// the caller's context bounds the query.
func (d *Database) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := d.db.QueryRowContext(ctx, d.Rebind(query), args...)
	d.observe(query, start, nil)
	return row
}

// WithTransaction runs fn inside a transaction, rolling back on error
func (d *Database) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}

	return tx.Commit()
}

// Ping verifies the connection is alive
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Driver returns the configured driver name
func (d *Database) Driver() string {
	return d.driver
}

// Unwrap exposes the underlying sql.DB for the migration runner
func (d *Database) Unwrap() *sql.DB {
	return d.db
}

// withTimeout bounds the context if the caller has not
func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.queryTimeout)
}

// observe logs slow queries and failures
func (d *Database) observe(query string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil && err != sql.ErrNoRows {
		d.logger.Debug("Query failed",
			zap.String("query", query),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	if elapsed > slowQueryThreshold {
		d.logger.Warn("Slow query",
			zap.String("query", query),
			zap.Duration("elapsed", elapsed))
	}
}

var placeholderRe = regexp.MustCompile(`\?`)

// Rebind converts `?` placeholders to the postgres `$n` format when needed.
// Queries are written with `?` throughout; sqlite and mysql use them as-is.
func (d *Database) Rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	count := 0
	return placeholderRe.ReplaceAllStringFunc(query, func(string) string {
		count++
		return fmt.Sprintf("$%d", count)
	})
}

// Package sqldb manages database/sql connection pools for the PostgreSQL and
// MySQL storage drivers.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/repository/sqlstore"
)

// Adapter owns a pooled *sql.DB for one dialect.
type Adapter struct {
	db      *sql.DB
	dialect sqlstore.Dialect
	logger  logger.Logger
}

// Config holds SQL connection configuration
type Config struct {
	Dialect         sqlstore.Dialect
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// NewAdapter opens a connection pool and verifies it with a ping.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	driver, err := driverName(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connection established",
		"dialect", cfg.Dialect,
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
	)
	return NewFromDB(db, cfg.Dialect, log), nil
}

// NewFromDB wraps an already opened pool.
func NewFromDB(db *sql.DB, dialect sqlstore.Dialect, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{db: db, dialect: dialect, logger: log}
}

func driverName(d sqlstore.Dialect) (string, error) {
	switch d {
	case sqlstore.Postgres:
		return "postgres", nil
	case sqlstore.MySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported SQL dialect %q", d)
	}
}

// DB returns the underlying pool.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Dialect returns the SQL dialect of the pool.
func (a *Adapter) Dialect() sqlstore.Dialect {
	return a.dialect
}

// Migrate runs each statement in order inside one transaction. Statements
// must be idempotent.
func (a *Adapter) Migrate(ctx context.Context, statements []string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	a.logger.Info("database schema ensured", "statements", len(statements))
	return nil
}

// HealthCheck verifies the database connection is healthy with a timeout
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Error("database health check failed", "dialect", a.dialect, "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the connection pool
func (a *Adapter) Close() error {
	a.logger.Info("closing database connection", "dialect", a.dialect)
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

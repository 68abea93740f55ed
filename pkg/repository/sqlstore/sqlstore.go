// Package sqlstore implements repository sessions on database/sql for
// PostgreSQL and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// SQLExecutor defines the interface for executing SQL queries
// This can be a *sql.DB, *sql.Conn, *sql.Tx, or any adapter that provides these methods
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect selects placeholder syntax and error classification.
type Dialect string

// Supported dialects
const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == MySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// EntityMapper defines how to map between entities and database rows
type EntityMapper[T any, ID comparable] interface {
	// Columns lists the selected columns in the order FromRow scans them
	Columns() []string

	// ToRow converts an entity to column names and values for INSERT/UPDATE
	ToRow(entity *T) (columns []string, values []interface{}, err error)

	// FromRow scans a database row into an entity
	FromRow(rows *sql.Rows) (*T, error)

	// GetID extracts the ID from an entity
	GetID(entity *T) ID
}

// Table describes where and how entities of one type are stored.
type Table[T any, ID comparable] struct {
	Name     string
	IDColumn string
	// OrderBy is the ORDER BY clause giving the deterministic load order.
	// Defaults to IDColumn.
	OrderBy       string
	VersionColumn string
	Mapper        EntityMapper[T, ID]
	Dialect       Dialect
}

func (t *Table[T, ID]) selectAll() string {
	order := t.OrderBy
	if order == "" {
		order = t.IDColumn
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(t.Mapper.Columns(), ", "), t.Name, order)
}

func (t *Table[T, ID]) selectByID() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(t.Mapper.Columns(), ", "), t.Name, t.IDColumn, t.Dialect.Placeholder(1))
}

func (t *Table[T, ID]) versionColumn() string {
	if t.VersionColumn == "" {
		return "version"
	}
	return t.VersionColumn
}

// isUniqueViolation reports whether err is a primary/unique key violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

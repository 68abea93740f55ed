package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/repository"
)

// Provider hands out sessions over a *sql.DB pool. It implements both
// repository.SessionProvider and repository.TxProvider. Inside a transaction
// started by TxManager every session joins that transaction.
type Provider[T any, ID comparable] struct {
	db    *sql.DB
	table *Table[T, ID]
}

// NewProvider creates a Provider for table.
func NewProvider[T any, ID comparable](db *sql.DB, table Table[T, ID]) (*Provider[T, ID], error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	if table.Name == "" || table.IDColumn == "" || table.Mapper == nil {
		return nil, errors.New("sqlstore: table name, id column and mapper are required")
	}
	if table.Dialect == "" {
		table.Dialect = Postgres
	}
	return &Provider[T, ID]{db: db, table: &table}, nil
}

// Acquire reserves a connection from the pool for the session's lifetime.
func (p *Provider[T, ID]) Acquire(ctx context.Context) (repository.Session[T, ID], func(), error) {
	if tx, ok := GetTx(ctx); ok {
		return &session[T, ID]{table: p.table, exec: tx}, func() {}, nil
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	s := &session[T, ID]{
		table: p.table,
		exec:  conn,
		begin: func(ctx context.Context) (*sql.Tx, error) { return conn.BeginTx(ctx, nil) },
	}
	return s, func() { _ = conn.Close() }, nil
}

// Begin starts a transaction, or joins the one carried by ctx.
func (p *Provider[T, ID]) Begin(ctx context.Context) (repository.TxSession[T, ID], error) {
	if tx, ok := GetTx(ctx); ok {
		return &txSession[T, ID]{session: session[T, ID]{table: p.table, exec: tx}}, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txSession[T, ID]{session: session[T, ID]{table: p.table, exec: tx}, tx: tx}, nil
}

// txSession owns tx unless it joined an outer transaction (tx == nil), in
// which case the outer owner commits or rolls back.
type txSession[T any, ID comparable] struct {
	session[T, ID]
	tx *sql.Tx
}

func (t *txSession[T, ID]) Commit() error {
	if t.tx == nil {
		return nil
	}
	return t.tx.Commit()
}

func (t *txSession[T, ID]) Rollback() error {
	if t.tx == nil {
		return nil
	}
	return t.tx.Rollback()
}

type contextKey string

const txContextKey contextKey = "sqlstore.tx"

// GetTx extracts a transaction from the context, if present
func GetTx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey).(*sql.Tx)
	return tx, ok
}

// TxManager runs units of work in one database transaction shared by every
// Provider on the same database.
type TxManager struct {
	db     *sql.DB
	logger logger.Logger
}

// NewTxManager creates a TxManager.
func NewTxManager(db *sql.DB, log logger.Logger) *TxManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &TxManager{db: db, logger: log}
}

// WithTransaction executes the given function within a database transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				m.logger.Error("failed to rollback transaction after panic",
					"panic", p,
					"rollback_error", rbErr,
				)
			}
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Error("failed to rollback transaction",
				"original_error", err,
				"rollback_error", rbErr,
			)
			return fmt.Errorf("failed to rollback transaction: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

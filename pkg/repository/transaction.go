package repository

import "context"

// TransactionManager provides transaction management capabilities
type TransactionManager interface {
	// WithTransaction executes the given function within a transaction
	// If the function returns an error, the transaction is rolled back
	// Otherwise, the transaction is committed
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxSession is a Session whose changes become visible to other sessions only
// after Commit.
type TxSession[T any, ID comparable] interface {
	Session[T, ID]
	Commit() error
	Rollback() error
}

// TxProvider begins transactional sessions.
type TxProvider[T any, ID comparable] interface {
	Begin(ctx context.Context) (TxSession[T, ID], error)
}

// TransactionFunc adapts a function to the TransactionManager interface.
type TransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// WithTransaction calls f(ctx, fn).
func (f TransactionFunc) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// NoTransaction runs units of work without any isolation.
var NoTransaction TransactionManager = TransactionFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
	"github.com/nimburion/bucketstore/pkg/resilience"
)

// NewBreaker builds the circuit breaker shared by every repository of one
// backend. It returns nil when failures is zero.
func NewBreaker(failures int, reset time.Duration, log logger.Logger, onChange func(resilience.State)) *resilience.CircuitBreaker {
	if failures <= 0 {
		return nil
	}
	return resilience.NewCircuitBreaker(resilience.Config{
		MaxFailures:  failures,
		ResetTimeout: reset,
		IsFailure:    IsStorageFailure,
		OnStateChange: func(from, to resilience.State) {
			log.Warn("storage circuit breaker changed state", "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(to)
			}
		},
	})
}

// IsStorageFailure reports whether err points at the storage itself rather
// than at the request. Missing entities, conflicts and cancelled callers leave
// the circuit alone.
func IsStorageFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, query.ErrNotFound),
		errors.Is(err, query.ErrInvalidArgument),
		errors.Is(err, query.ErrOperationCancelled),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrNotTransactional),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// guard runs fn through cb and reports an open circuit as ErrUnavailable.
func guard(cb *resilience.CircuitBreaker, fn func() error) error {
	err := cb.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", repository.ErrUnavailable, err)
	}
	return err
}

type guardedProvider[T any] struct {
	next repository.SessionProvider[T, string]
	cb   *resilience.CircuitBreaker
}

// Guard wraps p so every session operation goes through cb. A nil cb returns
// p unchanged.
func Guard[T any](p repository.SessionProvider[T, string], cb *resilience.CircuitBreaker) repository.SessionProvider[T, string] {
	if cb == nil {
		return p
	}
	return &guardedProvider[T]{next: p, cb: cb}
}

func (g *guardedProvider[T]) Acquire(ctx context.Context) (repository.Session[T, string], func(), error) {
	var (
		s       repository.Session[T, string]
		release func()
	)
	err := guard(g.cb, func() error {
		var err error
		s, release, err = g.next.Acquire(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &guardedSession[T]{next: s, cb: g.cb}, release, nil
}

type guardedTxProvider[T any] struct {
	guardedProvider[T]
	tx repository.TxProvider[T, string]
}

// GuardTx is Guard for providers that also begin transactions.
func GuardTx[T any](p provider[T], cb *resilience.CircuitBreaker) provider[T] {
	if cb == nil {
		return p
	}
	return &guardedTxProvider[T]{guardedProvider: guardedProvider[T]{next: p, cb: cb}, tx: p}
}

func (g *guardedTxProvider[T]) Begin(ctx context.Context) (repository.TxSession[T, string], error) {
	var tx repository.TxSession[T, string]
	err := guard(g.cb, func() error {
		var err error
		tx, err = g.tx.Begin(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedTxSession[T]{guardedSession: guardedSession[T]{next: tx, cb: g.cb}, tx: tx}, nil
}

type guardedSession[T any] struct {
	next repository.Session[T, string]
	cb   *resilience.CircuitBreaker
}

func (s *guardedSession[T]) Load(ctx context.Context) ([]T, error) {
	var out []T
	err := guard(s.cb, func() error {
		var err error
		out, err = s.next.Load(ctx)
		return err
	})
	return out, err
}

func (s *guardedSession[T]) LoadByID(ctx context.Context, id string) (*T, error) {
	var out *T
	err := guard(s.cb, func() error {
		var err error
		out, err = s.next.LoadByID(ctx, id)
		return err
	})
	return out, err
}

func (s *guardedSession[T]) Insert(ctx context.Context, entities []*T) error {
	return guard(s.cb, func() error { return s.next.Insert(ctx, entities) })
}

func (s *guardedSession[T]) Save(ctx context.Context, entities []*T) error {
	return guard(s.cb, func() error { return s.next.Save(ctx, entities) })
}

func (s *guardedSession[T]) Delete(ctx context.Context, entities []*T) error {
	return guard(s.cb, func() error { return s.next.Delete(ctx, entities) })
}

type guardedTxSession[T any] struct {
	guardedSession[T]
	tx repository.TxSession[T, string]
}

func (s *guardedTxSession[T]) Commit() error {
	return guard(s.cb, s.tx.Commit)
}

// Rollback is never rejected so an open circuit cannot leak a transaction.
func (s *guardedTxSession[T]) Rollback() error {
	return s.tx.Rollback()
}

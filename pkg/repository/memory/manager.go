package memory

import (
	"context"
	"errors"
	"sync"
)

type unitKey struct{}

// participant is a transactional session enlisted in a unit of work.
type participant interface {
	lockStore()
	unlockStore()
	// prepare stages the committed state; the store lock must be held.
	prepare() error
	// apply publishes the staged state; the store lock must be held.
	apply()
	Rollback() error
}

// unit is one running unit of work. Each store used inside it joins with a
// single transactional session, and all of them commit or roll back together.
type unit struct {
	mu    sync.Mutex
	parts map[any]participant
	order []participant
	done  bool
}

func unitFrom(ctx context.Context) (*unit, bool) {
	u, ok := ctx.Value(unitKey{}).(*unit)
	return u, ok
}

// join returns the session of s in u, beginning one on first use.
func join[T any, ID comparable](u *unit, s *Store[T, ID]) (*txSession[T, ID], error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return nil, ErrTxDone
	}
	if p, ok := u.parts[s]; ok {
		return p.(*txSession[T, ID]), nil
	}
	tx := s.begin()
	u.parts[s] = tx
	u.order = append(u.order, tx)
	return tx, nil
}

func (u *unit) commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.done = true

	// Units are serialized by their manager, so the locks are never taken
	// in conflicting orders.
	for _, p := range u.order {
		p.lockStore()
	}
	defer func() {
		for _, p := range u.order {
			p.unlockStore()
		}
	}()

	for _, p := range u.order {
		if err := p.prepare(); err != nil {
			for _, q := range u.order {
				_ = q.Rollback()
			}
			return err
		}
	}
	for _, p := range u.order {
		p.apply()
	}
	return nil
}

func (u *unit) rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.done = true
	var errs []error
	for _, p := range u.order {
		if err := p.Rollback(); err != nil && !errors.Is(err, ErrTxDone) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TransactionManager runs units of work that span several stores. Stores
// accessed inside a unit read a snapshot taken on first use and publish
// their writes only if the unit succeeds; on error, panic or a failed commit
// none of them change. Units are serialized and nested calls join the
// running one.
type TransactionManager struct {
	mu sync.Mutex
}

// NewTransactionManager creates a TransactionManager.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

// WithTransaction runs fn as one unit of work.
func (m *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := unitFrom(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &unit{parts: make(map[any]participant)}
	defer func() {
		if p := recover(); p != nil {
			_ = u.rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		if rbErr := u.rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return u.commit()
}

// Package memory provides an in-process storage backend for repositories.
// Rows are kept by value in insertion order, so every read hands out copies
// detached from the store.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nimburion/bucketstore/pkg/repository"
)

// ErrTxDone is returned by a transactional session used after Commit or Rollback.
var ErrTxDone = errors.New("memory: transaction has already been committed or rolled back")

// Store holds the rows of one entity type. It implements both
// repository.SessionProvider and repository.TxProvider.
type Store[T any, ID comparable] struct {
	mu     sync.RWMutex
	idOf   func(*T) ID
	data   *state[T, ID]
	active atomic.Int64
}

// NewStore creates an empty store. idOf extracts the identity of an entity.
func NewStore[T any, ID comparable](idOf func(*T) ID) *Store[T, ID] {
	return &Store[T, ID]{
		idOf: idOf,
		data: newState[T, ID](),
	}
}

// Acquire returns a session working directly on the committed rows, or the
// store's session in the unit of work carried by ctx.
func (s *Store[T, ID]) Acquire(ctx context.Context) (repository.Session[T, ID], func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if u, ok := unitFrom(ctx); ok {
		tx, err := join(u, s)
		if err != nil {
			return nil, nil, err
		}
		return tx, func() {}, nil
	}
	s.active.Add(1)
	var once sync.Once
	release := func() {
		once.Do(func() { s.active.Add(-1) })
	}
	return &session[T, ID]{store: s}, release, nil
}

// Begin starts a transactional session over a snapshot of the rows. Inside
// a unit of work it joins the unit, which then owns commit and rollback.
func (s *Store[T, ID]) Begin(ctx context.Context) (repository.TxSession[T, ID], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u, ok := unitFrom(ctx); ok {
		tx, err := join(u, s)
		if err != nil {
			return nil, err
		}
		return joined[T, ID]{tx}, nil
	}
	return s.begin(), nil
}

func (s *Store[T, ID]) begin() *txSession[T, ID] {
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	s.active.Add(1)
	return &txSession[T, ID]{store: s, snapshot: snapshot}
}

// Active returns the number of sessions currently acquired and not released.
func (s *Store[T, ID]) Active() int {
	return int(s.active.Load())
}

// Len returns the number of committed rows.
func (s *Store[T, ID]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.rows)
}

// HealthCheck always succeeds.
func (s *Store[T, ID]) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store[T, ID]) Close() error {
	return nil
}

func (s *Store[T, ID]) commit(kind opKind, entities []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	if err := next.apply(kind, s.idOf, entities); err != nil {
		return err
	}
	s.data = next
	return nil
}

type session[T any, ID comparable] struct {
	store *Store[T, ID]
}

func (s *session[T, ID]) Load(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return s.store.data.list(), nil
}

func (s *session[T, ID]) LoadByID(ctx context.Context, id ID) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	row, _ := s.store.data.get(id)
	return row, nil
}

func (s *session[T, ID]) Insert(ctx context.Context, entities []*T) error {
	return s.write(ctx, opInsert, entities)
}

func (s *session[T, ID]) Save(ctx context.Context, entities []*T) error {
	if err := s.write(ctx, opSave, entities); err != nil {
		return err
	}
	bumpVersions(entities)
	return nil
}

func (s *session[T, ID]) Delete(ctx context.Context, entities []*T) error {
	return s.write(ctx, opDelete, entities)
}

func (s *session[T, ID]) write(ctx context.Context, kind opKind, entities []*T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.commit(kind, copies(entities))
}

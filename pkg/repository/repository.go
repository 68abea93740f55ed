// Package repository exposes entities through repository facades that share
// one query pipeline and differ only in how they own their storage handle.
//
// Three variants are provided:
//
//   - Pooled acquires a session from a long-lived provider for every call and
//     releases it on every exit path.
//   - Scoped binds calls to a unit of work: a transaction opened by
//     WithTransaction, or a one-call transaction when none is active.
//   - ReadOnly exposes the read half of Pooled.
//
// Filtering, ordering and paging always run through query.Executor, so the
// same Specification yields the same sequence whichever variant serves it.
package repository

import (
	"context"

	"github.com/nimburion/bucketstore/pkg/query"
)

// Reader provides read operations for entities.
// Get returns (nil, nil) when no entity has the given id.
type Reader[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (*T, error)
	Find(ctx context.Context, spec *query.Specification[T]) ([]T, error)
	Count(ctx context.Context, spec *query.Specification[T]) (int, error)
}

// Writer provides write operations for entities.
// Batch forms reject a nil batch or a batch with a nil element before any
// storage mutation.
type Writer[T any, ID comparable] interface {
	Add(ctx context.Context, entity *T) error
	AddRange(ctx context.Context, entities []*T) error
	Update(ctx context.Context, entity *T) error
	UpdateRange(ctx context.Context, entities []*T) error
	Remove(ctx context.Context, entity *T) error
	RemoveRange(ctx context.Context, entities []*T) error
}

// Repository combines Reader and Writer interfaces for complete CRUD operations
type Repository[T any, ID comparable] interface {
	Reader[T, ID]
	Writer[T, ID]
}

// Session is a working storage handle. Load realizes every entity in the
// store's deterministic order and is the single round-trip of a query.
// Mutating methods apply the whole batch or none of it when the backend can
// guarantee that; backends report ErrEntityExists, ErrEntityNotFound and
// *OptimisticLockError for conflicting rows.
type Session[T any, ID comparable] interface {
	Load(ctx context.Context) ([]T, error)
	LoadByID(ctx context.Context, id ID) (*T, error)
	Insert(ctx context.Context, entities []*T) error
	Save(ctx context.Context, entities []*T) error
	Delete(ctx context.Context, entities []*T) error
}

// SessionProvider hands out sessions from a shared pool. The returned release
// func must be called exactly once when the caller is done with the session.
type SessionProvider[T any, ID comparable] interface {
	Acquire(ctx context.Context) (Session[T, ID], func(), error)
}

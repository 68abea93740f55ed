package repository

import (
	"context"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
)

// ReadOnly exposes the read operations of a pooled repository only.
type ReadOnly[T any, ID comparable] struct {
	pooled *Pooled[T, ID]
}

// NewReadOnly creates a read-only repository over provider.
func NewReadOnly[T any, ID comparable](entity string, provider SessionProvider[T, ID], log logger.Logger) *ReadOnly[T, ID] {
	return &ReadOnly[T, ID]{pooled: NewPooled(entity, provider, log)}
}

// Get returns the entity with the given id, or nil when it does not exist.
func (r *ReadOnly[T, ID]) Get(ctx context.Context, id ID) (*T, error) {
	return r.pooled.Get(ctx, id)
}

// Find runs spec against the store.
func (r *ReadOnly[T, ID]) Find(ctx context.Context, spec *query.Specification[T]) ([]T, error) {
	return r.pooled.Find(ctx, spec)
}

// Count returns the number of entities matching spec.
func (r *ReadOnly[T, ID]) Count(ctx context.Context, spec *query.Specification[T]) (int, error) {
	return r.pooled.Count(ctx, spec)
}

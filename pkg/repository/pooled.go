package repository

import (
	"context"
	"fmt"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
)

// Pooled is a repository over a long-lived session pool. Every call acquires
// its own session and releases it before returning, whatever the outcome.
type Pooled[T any, ID comparable] struct {
	core     core[T, ID]
	provider SessionProvider[T, ID]
}

// NewPooled creates a pooled repository. entity labels logs, metrics and spans.
func NewPooled[T any, ID comparable](entity string, provider SessionProvider[T, ID], log logger.Logger) *Pooled[T, ID] {
	return &Pooled[T, ID]{
		core:     newCore[T, ID](entity, log),
		provider: provider,
	}
}

func (r *Pooled[T, ID]) withSession(ctx context.Context, fn func(Session[T, ID]) error) error {
	if err := ctx.Err(); err != nil {
		return query.Cancelled(err)
	}
	session, release, err := r.provider.Acquire(ctx)
	if err != nil {
		return contextError(fmt.Errorf("failed to acquire %s session: %w", r.core.entity, err))
	}
	defer release()
	return fn(session)
}

// Get returns the entity with the given id, or nil when it does not exist.
func (r *Pooled[T, ID]) Get(ctx context.Context, id ID) (*T, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var out *T
	err := r.withSession(ctx, func(s Session[T, ID]) error {
		var err error
		out, err = r.core.get(ctx, s, id)
		return err
	})
	return out, err
}

// Find runs spec against the store.
func (r *Pooled[T, ID]) Find(ctx context.Context, spec *query.Specification[T]) ([]T, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out []T
	err := r.withSession(ctx, func(s Session[T, ID]) error {
		var err error
		out, err = r.core.find(ctx, s, spec)
		return err
	})
	return out, err
}

// Count returns the number of entities matching spec, ignoring its window.
func (r *Pooled[T, ID]) Count(ctx context.Context, spec *query.Specification[T]) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	var n int
	err := r.withSession(ctx, func(s Session[T, ID]) error {
		var err error
		n, err = r.core.count(ctx, s, spec)
		return err
	})
	return n, err
}

// Add inserts entity.
func (r *Pooled[T, ID]) Add(ctx context.Context, entity *T) error {
	batch, err := single(entity)
	if err != nil {
		return err
	}
	return r.write(ctx, mutationInsert, batch)
}

// AddRange inserts entities.
func (r *Pooled[T, ID]) AddRange(ctx context.Context, entities []*T) error {
	if err := validateBatch(entities); err != nil {
		return err
	}
	return r.write(ctx, mutationInsert, entities)
}

// Update stores entity. Versioned entities are checked and bumped.
func (r *Pooled[T, ID]) Update(ctx context.Context, entity *T) error {
	batch, err := single(entity)
	if err != nil {
		return err
	}
	return r.write(ctx, mutationUpdate, batch)
}

// UpdateRange stores entities.
func (r *Pooled[T, ID]) UpdateRange(ctx context.Context, entities []*T) error {
	if err := validateBatch(entities); err != nil {
		return err
	}
	return r.write(ctx, mutationUpdate, entities)
}

// Remove deletes entity.
func (r *Pooled[T, ID]) Remove(ctx context.Context, entity *T) error {
	batch, err := single(entity)
	if err != nil {
		return err
	}
	return r.write(ctx, mutationDelete, batch)
}

// RemoveRange deletes entities.
func (r *Pooled[T, ID]) RemoveRange(ctx context.Context, entities []*T) error {
	if err := validateBatch(entities); err != nil {
		return err
	}
	return r.write(ctx, mutationDelete, entities)
}

func (r *Pooled[T, ID]) write(ctx context.Context, m mutation, entities []*T) error {
	if len(entities) == 0 {
		return nil
	}
	return r.withSession(ctx, func(s Session[T, ID]) error {
		return r.core.mutate(ctx, m, s, entities)
	})
}

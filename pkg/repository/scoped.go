package repository

import (
	"context"
	"fmt"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
)

type scopeKey struct {
	entity string
}

// Scoped is a repository bound to units of work. Inside WithTransaction all
// calls share one transactional session; outside it every call runs in a
// transaction of its own.
type Scoped[T any, ID comparable] struct {
	core     core[T, ID]
	provider TxProvider[T, ID]
	key      *scopeKey
}

// NewScoped creates a scoped repository over provider.
func NewScoped[T any, ID comparable](entity string, provider TxProvider[T, ID], log logger.Logger) *Scoped[T, ID] {
	return &Scoped[T, ID]{
		core:     newCore[T, ID](entity, log),
		provider: provider,
		key:      &scopeKey{entity: entity},
	}
}

// WithTransaction executes fn within a unit of work. If fn returns an error
// or panics the unit is rolled back, otherwise it is committed. A call nested
// inside an active unit of work of the same repository joins it.
func (r *Scoped[T, ID]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := r.active(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return query.Cancelled(err)
	}

	tx, err := r.provider.Begin(ctx)
	if err != nil {
		return contextError(fmt.Errorf("failed to begin %s unit of work: %w", r.core.entity, err))
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.core.logger.Error("failed to rollback unit of work after panic",
					"entity", r.core.entity,
					"panic", p,
					"rollback_error", rbErr,
				)
			}
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, r.key, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.core.logger.Error("failed to rollback unit of work",
				"entity", r.core.entity,
				"original_error", err,
				"rollback_error", rbErr,
			)
			return fmt.Errorf("failed to rollback unit of work: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return contextError(fmt.Errorf("failed to commit %s unit of work: %w", r.core.entity, err))
	}
	return nil
}

func (r *Scoped[T, ID]) active(ctx context.Context) (TxSession[T, ID], bool) {
	tx, ok := ctx.Value(r.key).(TxSession[T, ID])
	return tx, ok
}

func (r *Scoped[T, ID]) withSession(ctx context.Context, fn func(context.Context, Session[T, ID]) error) error {
	if tx, ok := r.active(ctx); ok {
		return fn(ctx, tx)
	}
	return r.WithTransaction(ctx, func(ctx context.Context) error {
		tx, _ := r.active(ctx)
		return fn(ctx, tx)
	})
}

// Get returns the entity with the given id, or nil when it does not exist.
func (r *Scoped[T, ID]) Get(ctx context.Context, id ID) (*T, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var out *T
	err := r.withSession(ctx, func(ctx context.Context, s Session[T, ID]) error {
		var err error
		out, err = r.core.get(ctx, s, id)
		return err
	})
	return out, err
}

// Find runs spec inside the current unit of work.
func (r *Scoped[T, ID]) Find(ctx context.Context, spec *query.Specification[T]) ([]T, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out []T
	err := r.withSession(ctx, func(ctx context.Context, s Session[T, ID]) error {
		var err error
		out, err = r.core.find(ctx, s, spec)
		return err
	})
	return out, err
}

// Count returns the number of entities matching spec, ignoring its window.
func (r *Scoped[T, ID]) Count(ctx context.Context, spec *query.Specification[T]) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	var n int
	err := r.withSession(ctx, func(ctx context.Context, s Session[T, ID]) error {
		var err error
		n, err = r.core.count(ctx, s, spec)
		return err
	})
	return n, err
}

// Add inserts entity.
func (r *Scoped[T, ID]) Add(ctx context.Context, entity *T) error {
	batch, err := single(entity)
	if err != nil {
		return err
	}
	return r.write(ctx, mutationInsert, batch)
}

// AddRange inserts entities.
func (r *Scoped[T, ID]) AddRange(ctx context.Context, entities []*T) error {
	if err := validateBatch(entities); err != nil {
		return err
	}
	return r.write(ctx, mutationInsert, entities)
}

// Update stores entity.
func (r *Scoped[T, ID]) Update(ctx context.Context, entity *T) error {
	batch, err := single(entity)
	if err != nil {
		return err
	}
	return r.write(ctx, mutationUpdate, batch)
}

// UpdateRange stores entities.
func (r *Scoped[T, ID]) UpdateRange(ctx context.Context, entities []*T) error {
	if err := validateBatch(entities); err != nil {
		return err
	}
	return r.write(ctx, mutationUpdate, entities)
}

// Remove deletes entity.
func (r *Scoped[T, ID]) Remove(ctx context.Context, entity *T) error {
	batch, err := single(entity)
	if err != nil {
		return err
	}
	return r.write(ctx, mutationDelete, batch)
}

// RemoveRange deletes entities.
func (r *Scoped[T, ID]) RemoveRange(ctx context.Context, entities []*T) error {
	if err := validateBatch(entities); err != nil {
		return err
	}
	return r.write(ctx, mutationDelete, entities)
}

func (r *Scoped[T, ID]) write(ctx context.Context, m mutation, entities []*T) error {
	if len(entities) == 0 {
		return nil
	}
	return r.withSession(ctx, func(ctx context.Context, s Session[T, ID]) error {
		return r.core.mutate(ctx, m, s, entities)
	})
}

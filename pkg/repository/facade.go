package repository

import (
	"context"
	"errors"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/observability/metrics"
	"github.com/nimburion/bucketstore/pkg/observability/tracing"
	"github.com/nimburion/bucketstore/pkg/query"
)

type mutation struct {
	name string
	span tracing.SpanOperation
}

var (
	mutationInsert = mutation{name: "insert", span: tracing.SpanOperationStoreInsert}
	mutationUpdate = mutation{name: "update", span: tracing.SpanOperationStoreUpdate}
	mutationDelete = mutation{name: "delete", span: tracing.SpanOperationStoreDelete}
)

// core holds the behavior every variant shares once it has a session.
type core[T any, ID comparable] struct {
	entity   string
	executor *query.Executor[T]
	logger   logger.Logger
}

func newCore[T any, ID comparable](entity string, log logger.Logger) core[T, ID] {
	if log == nil {
		log = logger.NewNop()
	}
	return core[T, ID]{
		entity:   entity,
		executor: query.NewExecutor[T](entity, log),
		logger:   log,
	}
}

func (c *core[T, ID]) get(ctx context.Context, s Session[T, ID], id ID) (*T, error) {
	source := query.SourceFunc[T](func(ctx context.Context) ([]T, error) {
		e, err := s.LoadByID(ctx, id)
		if err != nil || e == nil {
			return nil, err
		}
		return []T{*e}, nil
	})

	found, ok, err := c.executor.First(ctx, source, query.All[T]())
	if err != nil || !ok {
		return nil, err
	}
	return &found, nil
}

func (c *core[T, ID]) find(ctx context.Context, s Session[T, ID], spec *query.Specification[T]) ([]T, error) {
	return c.executor.Run(ctx, spec, query.SourceFunc[T](s.Load))
}

func (c *core[T, ID]) count(ctx context.Context, s Session[T, ID], spec *query.Specification[T]) (int, error) {
	return c.executor.Count(ctx, spec, query.SourceFunc[T](s.Load))
}

func (c *core[T, ID]) mutate(ctx context.Context, m mutation, s Session[T, ID], entities []*T) error {
	if len(entities) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return query.Cancelled(err)
	}

	ctx, span := tracing.StartQuerySpan(ctx, m.span,
		tracing.WithQueryEntity(c.entity),
		tracing.WithBatchSize(len(entities)),
	)
	defer span.End()

	var err error
	switch m {
	case mutationInsert:
		err = s.Insert(ctx, entities)
	case mutationUpdate:
		err = s.Save(ctx, entities)
	case mutationDelete:
		err = s.Delete(ctx, entities)
	}
	if err != nil {
		err = contextError(err)
		tracing.RecordError(span, err)
		c.logger.WithContext(ctx).Debug("repository mutation failed",
			"entity", c.entity,
			"operation", m.name,
			"count", len(entities),
			"error", err,
		)
		return err
	}

	tracing.RecordSuccess(span)
	metrics.RecordMutation(c.entity, m.name, len(entities))
	return nil
}

// contextError reports storage failures caused by the caller's context as
// cancellations.
func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return query.Cancelled(err)
	}
	return err
}

func single[T any](entity *T) ([]*T, error) {
	if err := validateEntity(entity); err != nil {
		return nil, err
	}
	return []*T{entity}, nil
}

// Package query composes and executes filter + sort + page queries against
// an abstract, ordered entity source.
//
// A query runs as a fixed pipeline: the source is realized once (the only
// step that may block or touch storage), then the predicate filters it, the
// SortOrder orders the matches stably, and the offset/limit window is cut.
// The same pipeline backs every repository variant, so results never depend
// on which storage lifetime policy produced the source.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/observability/metrics"
	"github.com/nimburion/bucketstore/pkg/observability/tracing"
)

// Source realizes the candidate entities of a query in a deterministic order.
// Load is the single storage round-trip of a query execution; implementations
// must return a slice the caller may keep and reorder.
type Source[T any] interface {
	Load(ctx context.Context) ([]T, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc[T any] func(ctx context.Context) ([]T, error)

// Load calls f(ctx).
func (f SourceFunc[T]) Load(ctx context.Context) ([]T, error) {
	return f(ctx)
}

// SliceSource returns a Source over a fixed slice. Every Load returns a copy.
func SliceSource[T any](items []T) Source[T] {
	return SourceFunc[T](func(context.Context) ([]T, error) {
		out := make([]T, len(items))
		copy(out, items)
		return out, nil
	})
}

// Window returns the [start, end) bounds of the page over n matches.
// Without a limit the page runs to the end of the matches.
func Window(n, offset, limit int, hasLimit bool) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	start = min(offset, n)
	end = n
	if hasLimit && limit >= 0 && limit < end-start {
		end = start + limit
	}
	return start, end
}

// Execute runs the in-memory part of the pipeline over items: filter, stable
// sort, then offset/limit. items is not modified and the returned slice never
// aliases it.
func Execute[T any](spec *Specification[T], items []T) ([]T, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	matched := make([]T, 0, len(items))
	for _, item := range items {
		if spec.predicate(item) {
			matched = append(matched, item)
		}
	}

	spec.order.Apply(matched)

	offset, _ := spec.Offset()
	limit, hasLimit := spec.Limit()
	start, end := Window(len(matched), offset, limit, hasLimit)
	if start == 0 && end == len(matched) {
		return matched, nil
	}
	page := make([]T, end-start)
	copy(page, matched[start:end])
	return page, nil
}

// Executor runs Specifications against Sources with cancellation, logging,
// metrics and tracing. It holds no per-query state and is safe for
// concurrent use.
type Executor[T any] struct {
	entity string
	logger logger.Logger
}

// NewExecutor creates an Executor. entity labels logs, metrics and spans.
func NewExecutor[T any](entity string, log logger.Logger) *Executor[T] {
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor[T]{entity: entity, logger: log}
}

// Entity returns the entity label.
func (e *Executor[T]) Entity() string {
	return e.entity
}

// Run executes spec against source. Cancellation is checked before the
// storage round-trip and again once it returns; a cancelled query fails with
// ErrOperationCancelled and never yields a partial result.
func (e *Executor[T]) Run(ctx context.Context, spec *Specification[T], source Source[T]) ([]T, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, NewArgumentError("source", "must not be nil")
	}

	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationQueryFind, tracing.WithQueryEntity(e.entity))
	defer span.End()

	start := time.Now()
	items, err := e.load(ctx, source)
	if err != nil {
		tracing.RecordError(span, err)
		e.observe("error", start, 0)
		return nil, err
	}

	result, err := Execute(spec, items)
	if err != nil {
		tracing.RecordError(span, err)
		e.observe("error", start, 0)
		return nil, err
	}

	tracing.RecordSuccess(span)
	e.observe("ok", start, len(result))
	e.logger.WithContext(ctx).Debug("query executed",
		"entity", e.entity,
		"query", spec.String(),
		"candidates", len(items),
		"results", len(result),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Count returns the number of entities in source matching the predicate of
// spec, ignoring its window.
func (e *Executor[T]) Count(ctx context.Context, spec *Specification[T], source Source[T]) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if source == nil {
		return 0, NewArgumentError("source", "must not be nil")
	}

	ctx, span := tracing.StartQuerySpan(ctx, tracing.SpanOperationQueryCount, tracing.WithQueryEntity(e.entity))
	defer span.End()

	start := time.Now()
	items, err := e.load(ctx, source)
	if err != nil {
		tracing.RecordError(span, err)
		e.observe("error", start, 0)
		return 0, err
	}

	n := 0
	for _, item := range items {
		if spec.predicate(item) {
			n++
		}
	}
	tracing.RecordSuccess(span)
	e.observe("ok", start, n)
	return n, nil
}

// First returns the first entity of source accepted by match, in source order.
// An absent entity is reported with ok=false and a nil error.
func (e *Executor[T]) First(ctx context.Context, source Source[T], match Predicate[T]) (result T, ok bool, err error) {
	if match == nil {
		return result, false, NewArgumentError("match", "must not be nil")
	}
	spec := &Specification[T]{predicate: match, window: window{limit: 1, hasLimit: true}}
	items, err := e.Run(ctx, spec, source)
	if err != nil {
		return result, false, err
	}
	if len(items) == 0 {
		return result, false, nil
	}
	return items[0], true, nil
}

func (e *Executor[T]) load(ctx context.Context, source Source[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	items, err := source.Load(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, Cancelled(ctxErr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, Cancelled(err)
		}
		return nil, err
	}
	return items, nil
}

func (e *Executor[T]) observe(outcome string, start time.Time, results int) {
	metrics.RecordQuery(e.entity, outcome, time.Since(start), results)
}

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

// Span operation constants
const (
	// SpanOperationQueryFind represents a filter+sort+page query
	SpanOperationQueryFind SpanOperation = "query.find"
	// SpanOperationQueryCount represents a counting query
	SpanOperationQueryCount SpanOperation = "query.count"

	// SpanOperationStoreLoad represents a storage round-trip that realizes entities
	SpanOperationStoreLoad SpanOperation = "store.load"
	// SpanOperationStoreInsert represents a storage insert
	SpanOperationStoreInsert SpanOperation = "store.insert"
	// SpanOperationStoreUpdate represents a storage update
	SpanOperationStoreUpdate SpanOperation = "store.update"
	// SpanOperationStoreDelete represents a storage delete
	SpanOperationStoreDelete SpanOperation = "store.delete"
)

const instrumentationName = "github.com/nimburion/bucketstore"

// StartQuerySpan creates a span for a query or storage operation.
func StartQuerySpan(ctx context.Context, operation SpanOperation, opts ...QuerySpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)

	spanOpts := &querySpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("query.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := string(operation)
	if spanOpts.entity != "" {
		spanName = fmt.Sprintf("%s %s", operation, spanOpts.entity)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// QuerySpanOption configures a query span.
type QuerySpanOption func(*querySpanOptions)

type querySpanOptions struct {
	entity     string
	attributes []attribute.KeyValue
}

// WithQueryEntity sets the queried entity name.
func WithQueryEntity(entity string) QuerySpanOption {
	return func(opts *querySpanOptions) {
		opts.entity = entity
		opts.attributes = append(opts.attributes, attribute.String("query.entity", entity))
	}
}

// WithStorageSystem sets the storage backend (e.g. "postgresql", "redis", "memory").
func WithStorageSystem(system string) QuerySpanOption {
	return func(opts *querySpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithBatchSize sets the number of entities touched by a mutation.
func WithBatchSize(n int) QuerySpanOption {
	return func(opts *querySpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("query.batch_size", n))
	}
}

// RecordError records an error in the span and sets its status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

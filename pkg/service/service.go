// Package service implements the bucket use cases on top of the bucket and
// item repositories.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/bucketstore/pkg/domain/bucket"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
)

// ListParams carries the raw list query of a request.
type ListParams struct {
	Filter map[string]string
	Sort   string
	// Limit is nil when the caller did not ask for one.
	Limit  *int
	Offset int
}

// Page is one window of a list result.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// BucketInput holds the writable bucket fields. Version, when set, must match
// the stored version.
type BucketInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Size        int     `json:"size"`
	Version     *int64  `json:"version,omitempty"`
}

// ItemInput holds the writable item fields.
type ItemInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Size        int     `json:"size"`
	Version     *int64  `json:"version,omitempty"`
}

// Limits bounds list windows.
type Limits struct {
	Default int
	Max     int
}

// Options configures a BucketService.
type Options struct {
	Buckets repository.Repository[bucket.Bucket, string]
	// BucketReader serves bucket lookups and listings. Defaults to Buckets.
	BucketReader repository.Reader[bucket.Bucket, string]
	Items   repository.Repository[bucket.Item, string]
	Tx      repository.TransactionManager
	Limits  Limits
	Logger  logger.Logger
	// Now and NewID default to time.Now and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// BucketService implements the bucket use cases.
type BucketService struct {
	buckets repository.Repository[bucket.Bucket, string]
	reads   repository.Reader[bucket.Bucket, string]
	items   repository.Repository[bucket.Item, string]
	tx      repository.TransactionManager
	limits  Limits
	logger  logger.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a BucketService.
func New(opts Options) *BucketService {
	s := &BucketService{
		buckets: opts.Buckets,
		reads:   opts.BucketReader,
		items:   opts.Items,
		tx:      opts.Tx,
		limits:  opts.Limits,
		logger:  opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if s.reads == nil {
		s.reads = s.buckets
	}
	if s.tx == nil {
		s.tx = repository.NoTransaction
	}
	if s.limits.Default <= 0 {
		s.limits.Default = 50
	}
	if s.limits.Max < s.limits.Default {
		s.limits.Max = s.limits.Default
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	return s
}

// notFound escalates an absent entity to query.ErrNotFound.
func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, query.ErrNotFound)
}

func buildSpec[T any](fields *query.Fields[T], scope query.Predicate[T], p ListParams, limits Limits) (*query.Specification[T], int, error) {
	filter, err := fields.ParseFilter(p.Filter)
	if err != nil {
		return nil, 0, err
	}
	order, err := fields.ParseSort(p.Sort)
	if err != nil {
		return nil, 0, err
	}

	limit := limits.Default
	if p.Limit != nil {
		limit = *p.Limit
	}
	if limit > limits.Max {
		return nil, 0, query.NewArgumentError("limit", fmt.Sprintf("must be <= %d, got %d", limits.Max, limit))
	}

	spec, err := query.NewSpecification(query.And(scope, filter), order,
		query.WithLimit(limit), query.WithOffset(p.Offset))
	if err != nil {
		return nil, 0, err
	}
	return spec, limit, nil
}

func list[T any, ID comparable](ctx context.Context, r repository.Reader[T, ID], spec *query.Specification[T], limit, offset int) (*Page[T], error) {
	total, err := r.Count(ctx, spec)
	if err != nil {
		return nil, err
	}
	items, err := r.Find(ctx, spec)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func expectVersion(v *int64, entity repository.Versioned) {
	if v != nil {
		entity.SetVersion(*v)
	}
}

package service

import (
	"context"

	"github.com/nimburion/bucketstore/pkg/domain/bucket"
	"github.com/nimburion/bucketstore/pkg/query"
)

// ListBuckets returns one page of the buckets matching p.
func (s *BucketService) ListBuckets(ctx context.Context, p ListParams) (*Page[bucket.Bucket], error) {
	spec, limit, err := buildSpec(bucket.BucketFields, query.All[bucket.Bucket](), p, s.limits)
	if err != nil {
		return nil, err
	}
	return list[bucket.Bucket, string](ctx, s.reads, spec, limit, p.Offset)
}

// GetBucket returns the bucket with the given id or an error matching
// query.ErrNotFound.
func (s *BucketService) GetBucket(ctx context.Context, id string) (*bucket.Bucket, error) {
	b, err := s.reads.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("bucket", id)
	}
	return b, nil
}

// CreateBucket validates in and stores a new bucket.
func (s *BucketService) CreateBucket(ctx context.Context, in BucketInput) (*bucket.Bucket, error) {
	b := &bucket.Bucket{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
		Size:        in.Size,
		CreatedAt:   s.now().UTC(),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := s.buckets.Add(ctx, b); err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("bucket created", "bucket_id", b.ID, "size", b.Size)
	return b, nil
}

// UpdateBucket replaces the writable fields of a bucket. The size cannot drop
// below the number of items the bucket holds.
func (s *BucketService) UpdateBucket(ctx context.Context, id string, in BucketInput) (*bucket.Bucket, error) {
	var updated *bucket.Bucket
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.GetBucket(ctx, id)
		if err != nil {
			return err
		}
		expectVersion(in.Version, b)
		b.Name, b.Description, b.Size = in.Name, in.Description, in.Size
		if err := b.Validate(); err != nil {
			return err
		}

		held, err := s.items.Count(ctx, query.MustSpecification(bucket.InBucket(id), query.SortOrder[bucket.Item]{}))
		if err != nil {
			return err
		}
		if err := b.CheckCapacity(held, 0); err != nil {
			return err
		}
		if err := s.buckets.Update(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBucket removes a bucket together with its items.
func (s *BucketService) DeleteBucket(ctx context.Context, id string) error {
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.GetBucket(ctx, id)
		if err != nil {
			return err
		}
		items, err := s.items.Find(ctx, query.MustSpecification(bucket.InBucket(id), query.SortOrder[bucket.Item]{}))
		if err != nil {
			return err
		}
		if len(items) > 0 {
			batch := make([]*bucket.Item, len(items))
			for i := range items {
				batch[i] = &items[i]
			}
			if err := s.items.RemoveRange(ctx, batch); err != nil {
				return err
			}
		}
		return s.buckets.Remove(ctx, b)
	})
	if err != nil {
		return err
	}
	s.logger.WithContext(ctx).Info("bucket deleted", "bucket_id", id)
	return nil
}

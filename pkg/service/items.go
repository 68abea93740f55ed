package service

import (
	"context"

	"github.com/nimburion/bucketstore/pkg/domain/bucket"
	"github.com/nimburion/bucketstore/pkg/query"
)

// ListItems returns one page of the items of a bucket matching p.
func (s *BucketService) ListItems(ctx context.Context, bucketID string, p ListParams) (*Page[bucket.Item], error) {
	if _, err := s.GetBucket(ctx, bucketID); err != nil {
		return nil, err
	}
	spec, limit, err := buildSpec(bucket.ItemFields, bucket.InBucket(bucketID), p, s.limits)
	if err != nil {
		return nil, err
	}
	return list[bucket.Item, string](ctx, s.items, spec, limit, p.Offset)
}

// GetItem returns an item of a bucket or an error matching query.ErrNotFound.
func (s *BucketService) GetItem(ctx context.Context, bucketID, itemID string) (*bucket.Item, error) {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.BucketID != bucketID {
		return nil, notFound("item", itemID)
	}
	return item, nil
}

// AddItem stores a new item in a bucket that still has room for it.
func (s *BucketService) AddItem(ctx context.Context, bucketID string, in ItemInput) (*bucket.Item, error) {
	items, err := s.AddItems(ctx, bucketID, []ItemInput{in})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// AddItems stores a batch of items in one bucket. Either the whole batch fits
// and is stored or nothing is. The bucket's version advances with every
// accepted batch.
func (s *BucketService) AddItems(ctx context.Context, bucketID string, in []ItemInput) ([]*bucket.Item, error) {
	if len(in) == 0 {
		return nil, query.NewArgumentError("items", "must not be empty")
	}

	now := s.now().UTC()
	batch := make([]*bucket.Item, len(in))
	for i, input := range in {
		item := &bucket.Item{
			ID:          s.newID(),
			BucketID:    bucketID,
			Name:        input.Name,
			Description: input.Description,
			Size:        input.Size,
			CreatedAt:   now,
		}
		if err := item.Validate(); err != nil {
			if len(in) > 1 {
				return nil, query.NewElementError("items", i, err.Error())
			}
			return nil, err
		}
		batch[i] = item
	}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.GetBucket(ctx, bucketID)
		if err != nil {
			return err
		}
		held, err := s.items.Count(ctx, query.MustSpecification(bucket.InBucket(bucketID), query.SortOrder[bucket.Item]{}))
		if err != nil {
			return err
		}
		if err := b.CheckCapacity(held, len(batch)); err != nil {
			return err
		}
		// Saving the bucket bumps its version, so a concurrent batch checked
		// against the same version fails with a conflict.
		if err := s.buckets.Update(ctx, b); err != nil {
			return err
		}
		return s.items.AddRange(ctx, batch)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("items added", "bucket_id", bucketID, "count", len(batch))
	return batch, nil
}

// UpdateItem replaces the writable fields of an item.
func (s *BucketService) UpdateItem(ctx context.Context, bucketID, itemID string, in ItemInput) (*bucket.Item, error) {
	var updated *bucket.Item
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		item, err := s.GetItem(ctx, bucketID, itemID)
		if err != nil {
			return err
		}
		expectVersion(in.Version, item)
		item.Name, item.Description, item.Size = in.Name, in.Description, in.Size
		if err := item.Validate(); err != nil {
			return err
		}
		if err := s.items.Update(ctx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveItem deletes an item from a bucket.
func (s *BucketService) RemoveItem(ctx context.Context, bucketID, itemID string) error {
	item, err := s.GetItem(ctx, bucketID, itemID)
	if err != nil {
		return err
	}
	return s.items.Remove(ctx, item)
}

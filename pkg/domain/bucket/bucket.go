// Package bucket defines the Bucket and Item entities, their business rules
// and the field allow-lists exposed to list queries.
package bucket

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
)

// Name length bounds shared by buckets and items.
const (
	MinNameLength = 1
	MaxNameLength = 100
)

// ErrCapacityExceeded is returned when a bucket cannot hold more items.
var ErrCapacityExceeded = fmt.Errorf("bucket capacity exceeded: %w", repository.ErrConflict)

// Bucket is a named container holding at most Size items.
type Bucket struct {
	ID          string    `json:"id" bson:"id"`
	Name        string    `json:"name" bson:"name"`
	Description *string   `json:"description,omitempty" bson:"description,omitempty"`
	Size        int       `json:"size" bson:"size"`
	Version     int64     `json:"version" bson:"version"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// GetVersion implements repository.Versioned.
func (b *Bucket) GetVersion() int64 { return b.Version }

// SetVersion implements repository.Versioned.
func (b *Bucket) SetVersion(v int64) { b.Version = v }

// BucketID returns the identity of b.
func BucketID(b *Bucket) string { return b.ID }

// Validate checks the bucket business rules.
func (b *Bucket) Validate() error {
	if err := validateName(b.Name); err != nil {
		return err
	}
	if b.Size < 1 {
		return query.NewArgumentError("size", fmt.Sprintf("must be >= 1, got %d", b.Size))
	}
	return nil
}

// CheckCapacity reports ErrCapacityExceeded when adding n items to a bucket
// already holding held items would overflow it.
func (b *Bucket) CheckCapacity(held, n int) error {
	if held+n > b.Size {
		return fmt.Errorf("bucket %s holds %d of %d items, cannot add %d: %w",
			b.ID, held, b.Size, n, ErrCapacityExceeded)
	}
	return nil
}

// Item is an element stored in a bucket.
type Item struct {
	ID          string    `json:"id" bson:"id"`
	BucketID    string    `json:"bucket_id" bson:"bucket_id"`
	Name        string    `json:"name" bson:"name"`
	Description *string   `json:"description,omitempty" bson:"description,omitempty"`
	Size        int       `json:"size" bson:"size"`
	Version     int64     `json:"version" bson:"version"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// GetVersion implements repository.Versioned.
func (i *Item) GetVersion() int64 { return i.Version }

// SetVersion implements repository.Versioned.
func (i *Item) SetVersion(v int64) { i.Version = v }

// ItemID returns the identity of i.
func ItemID(i *Item) string { return i.ID }

// Validate checks the item business rules.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.BucketID) == "" {
		return query.NewArgumentError("bucket_id", "must not be empty")
	}
	if err := validateName(i.Name); err != nil {
		return err
	}
	if i.Size < 0 {
		return query.NewArgumentError("size", fmt.Sprintf("must be >= 0, got %d", i.Size))
	}
	return nil
}

// InBucket matches the items stored in bucketID.
func InBucket(bucketID string) query.Predicate[Item] {
	return func(i Item) bool { return i.BucketID == bucketID }
}

func validateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinNameLength || n > MaxNameLength {
		return query.NewArgumentError("name",
			fmt.Sprintf("length must be between %d and %d characters, got %d", MinNameLength, MaxNameLength, n))
	}
	return nil
}

// IsCapacityExceeded reports whether err is a capacity violation.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

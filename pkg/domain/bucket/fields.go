package bucket

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/bucketstore/pkg/query"
)

// Sort keys over buckets.
var (
	BucketByName        = query.By("name", func(b Bucket) string { return b.Name })
	BucketByDescription = query.ByNullable("description", func(b Bucket) *string { return b.Description })
	BucketBySize        = query.By("size", func(b Bucket) int { return b.Size })
	BucketByCreatedAt   = query.ByFunc("created_at", func(a, b Bucket) int { return a.CreatedAt.Compare(b.CreatedAt) })
)

// Sort keys over items.
var (
	ItemByName        = query.By("name", func(i Item) string { return i.Name })
	ItemByDescription = query.ByNullable("description", func(i Item) *string { return i.Description })
	ItemBySize        = query.By("size", func(i Item) int { return i.Size })
	ItemByCreatedAt   = query.ByFunc("created_at", func(a, b Item) int { return a.CreatedAt.Compare(b.CreatedAt) })
)

// BucketFields is the allow-list of bucket fields accepted by list queries.
var BucketFields = query.NewFields[Bucket]().
	Sortable(BucketByName, BucketByDescription, BucketBySize, BucketByCreatedAt).
	Filterable("name", exact(func(b Bucket) string { return b.Name })).
	Filterable("description", contains(func(b Bucket) *string { return b.Description })).
	Filterable("min_size", atLeast(func(b Bucket) int { return b.Size })).
	Filterable("max_size", atMost(func(b Bucket) int { return b.Size })).
	Filterable("created_after", after(func(b Bucket) time.Time { return b.CreatedAt }))

// ItemFields is the allow-list of item fields accepted by list queries.
var ItemFields = query.NewFields[Item]().
	Sortable(ItemByName, ItemByDescription, ItemBySize, ItemByCreatedAt).
	Filterable("name", exact(func(i Item) string { return i.Name })).
	Filterable("description", contains(func(i Item) *string { return i.Description })).
	Filterable("min_size", atLeast(func(i Item) int { return i.Size })).
	Filterable("max_size", atMost(func(i Item) int { return i.Size })).
	Filterable("created_after", after(func(i Item) time.Time { return i.CreatedAt }))

func exact[T any](field func(T) string) query.FilterBuilder[T] {
	return func(value string) (query.Predicate[T], error) {
		return func(v T) bool { return field(v) == value }, nil
	}
}

// contains matches case-insensitively; a missing value never matches.
func contains[T any](field func(T) *string) query.FilterBuilder[T] {
	return func(value string) (query.Predicate[T], error) {
		needle := strings.ToLower(value)
		return func(v T) bool {
			s := field(v)
			return s != nil && strings.Contains(strings.ToLower(*s), needle)
		}, nil
	}
}

func atLeast[T any](field func(T) int) query.FilterBuilder[T] {
	return func(value string) (query.Predicate[T], error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("must be an integer, got %q", value)
		}
		return func(v T) bool { return field(v) >= n }, nil
	}
}

func atMost[T any](field func(T) int) query.FilterBuilder[T] {
	return func(value string) (query.Predicate[T], error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("must be an integer, got %q", value)
		}
		return func(v T) bool { return field(v) <= n }, nil
	}
}

func after[T any](field func(T) time.Time) query.FilterBuilder[T] {
	return func(value string) (query.Predicate[T], error) {
		ts, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, fmt.Errorf("must be an RFC 3339 timestamp, got %q", value)
		}
		return func(v T) bool { return field(v).After(ts) }, nil
	}
}

package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Direction defines the sort direction of a single key.
type Direction int

// Direction constants
const (
	// Ascending sorts smallest first
	Ascending Direction = iota
	// Descending sorts largest first
	Descending
)

// String returns "asc" or "desc".
func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// ParseDirection converts "asc"/"desc" (case-insensitive) to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, NewArgumentError("direction", fmt.Sprintf("unknown sort direction %q", s))
	}
}

// SortKey extracts and compares one comparable value of T.
// Keys are built with By or ByNullable and carry a name used for logging
// and for storage backends that push ordering down.
type SortKey[T any] struct {
	name    string
	compare func(a, b T) int
}

// Name returns the key name.
func (k SortKey[T]) Name() string {
	return k.name
}

// By creates a key from a selector returning an ordered value.
// Strings compare byte-wise (ordinal), numbers numerically.
func By[T any, K cmp.Ordered](name string, selector func(T) K) SortKey[T] {
	return SortKey[T]{
		name: name,
		compare: func(a, b T) int {
			return cmp.Compare(selector(a), selector(b))
		},
	}
}

// ByNullable creates a key from a selector that may report a missing value with nil.
// A missing value compares greater than any present value, so nulls come last
// in ascending order and first in descending order.
func ByNullable[T any, K cmp.Ordered](name string, selector func(T) *K) SortKey[T] {
	return SortKey[T]{
		name: name,
		compare: func(a, b T) int {
			va, vb := selector(a), selector(b)
			switch {
			case va == nil && vb == nil:
				return 0
			case va == nil:
				return 1
			case vb == nil:
				return -1
			default:
				return cmp.Compare(*va, *vb)
			}
		},
	}
}

// ByFunc creates a key from an arbitrary three-way comparison.
func ByFunc[T any](name string, compare func(a, b T) int) SortKey[T] {
	return SortKey[T]{name: name, compare: compare}
}

// KeyInfo describes one key of a SortOrder without exposing its selector.
type KeyInfo struct {
	Name      string
	Direction Direction
}

type orderedKey[T any] struct {
	key       SortKey[T]
	direction Direction
}

// SortOrder is an immutable composite ordering. The first key is primary,
// every following key only breaks ties among entities equal under all
// preceding keys. The zero value has no keys and leaves input order untouched.
type SortOrder[T any] struct {
	keys []orderedKey[T]
}

// OrderBy starts a new composite ordering ascending by key.
func OrderBy[T any](key SortKey[T]) SortOrder[T] {
	return Order(key, Ascending)
}

// OrderByDescending starts a new composite ordering descending by key.
func OrderByDescending[T any](key SortKey[T]) SortOrder[T] {
	return Order(key, Descending)
}

// Order starts a new composite ordering by key in the given direction.
func Order[T any](key SortKey[T], direction Direction) SortOrder[T] {
	return SortOrder[T]{keys: []orderedKey[T]{{key: key, direction: direction}}}
}

// OrderBy discards the receiver's keys and starts a new composite.
func (o SortOrder[T]) OrderBy(key SortKey[T]) SortOrder[T] {
	return OrderBy(key)
}

// OrderByDescending discards the receiver's keys and starts a new descending composite.
func (o SortOrder[T]) OrderByDescending(key SortKey[T]) SortOrder[T] {
	return OrderByDescending(key)
}

// ThenBy returns a new SortOrder with an ascending tie-break key appended.
func (o SortOrder[T]) ThenBy(key SortKey[T]) SortOrder[T] {
	return o.Then(key, Ascending)
}

// ThenByDescending returns a new SortOrder with a descending tie-break key appended.
func (o SortOrder[T]) ThenByDescending(key SortKey[T]) SortOrder[T] {
	return o.Then(key, Descending)
}

// Then returns a new SortOrder with key appended in the given direction.
// The receiver is never modified, so a shared prefix can be extended
// independently by concurrent callers.
func (o SortOrder[T]) Then(key SortKey[T], direction Direction) SortOrder[T] {
	keys := make([]orderedKey[T], len(o.keys), len(o.keys)+1)
	copy(keys, o.keys)
	keys = append(keys, orderedKey[T]{key: key, direction: direction})
	return SortOrder[T]{keys: keys}
}

// Len returns the number of keys.
func (o SortOrder[T]) Len() int {
	return len(o.keys)
}

// IsZero reports whether the order has no keys.
func (o SortOrder[T]) IsZero() bool {
	return len(o.keys) == 0
}

// Keys returns the key names and directions in application order.
func (o SortOrder[T]) Keys() []KeyInfo {
	out := make([]KeyInfo, len(o.keys))
	for i, k := range o.keys {
		out[i] = KeyInfo{Name: k.key.name, Direction: k.direction}
	}
	return out
}

// Compare compares a and b lexicographically over all keys.
func (o SortOrder[T]) Compare(a, b T) int {
	for _, k := range o.keys {
		c := k.key.compare(a, b)
		if c == 0 {
			continue
		}
		if k.direction == Descending {
			return -c
		}
		return c
	}
	return 0
}

// Apply sorts items in place. The sort is stable: entities equal under every
// key keep their relative input order.
func (o SortOrder[T]) Apply(items []T) {
	if len(o.keys) == 0 || len(items) < 2 {
		return
	}
	slices.SortStableFunc(items, o.Compare)
}

// String renders the order as "name asc, size desc".
func (o SortOrder[T]) String() string {
	parts := make([]string, len(o.keys))
	for i, k := range o.keys {
		parts[i] = k.key.name + " " + k.direction.String()
	}
	return strings.Join(parts, ", ")
}

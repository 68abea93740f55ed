package query

import (
	"fmt"
	"math"
)

// Predicate reports whether an entity belongs to a query result.
type Predicate[T any] func(T) bool

// All returns a predicate that accepts every entity.
func All[T any]() Predicate[T] {
	return func(T) bool { return true }
}

// None returns a predicate that rejects every entity.
func None[T any]() Predicate[T] {
	return func(T) bool { return false }
}

// And combines predicates; the result accepts an entity only if all of them do.
// Nil predicates are ignored.
func And[T any](predicates ...Predicate[T]) Predicate[T] {
	active := make([]Predicate[T], 0, len(predicates))
	for _, p := range predicates {
		if p != nil {
			active = append(active, p)
		}
	}
	return func(v T) bool {
		for _, p := range active {
			if !p(v) {
				return false
			}
		}
		return true
	}
}

// Option configures the window of a Specification.
type Option func(*window) error

type window struct {
	limit     int
	offset    int
	hasLimit  bool
	hasOffset bool
}

// WithLimit caps the number of returned entities. n must be >= 0.
func WithLimit(n int) Option {
	return func(w *window) error {
		if n < 0 {
			return NewArgumentError("limit", fmt.Sprintf("must be >= 0, got %d", n))
		}
		w.limit, w.hasLimit = n, true
		return nil
	}
}

// WithOffset skips the first n matching entities. n must be >= 0.
func WithOffset(n int) Option {
	return func(w *window) error {
		if n < 0 {
			return NewArgumentError("offset", fmt.Sprintf("must be >= 0, got %d", n))
		}
		w.offset, w.hasOffset = n, true
		return nil
	}
}

// WithPage converts a 1-based page number and page size to offset/limit.
func WithPage(page, size int) Option {
	return func(w *window) error {
		if page < 1 {
			return NewArgumentError("page", fmt.Sprintf("must be >= 1, got %d", page))
		}
		if size < 0 {
			return NewArgumentError("page_size", fmt.Sprintf("must be >= 0, got %d", size))
		}
		if size > 0 && page-1 > math.MaxInt/size {
			return NewArgumentError("page", fmt.Sprintf("page %d of size %d is out of range", page, size))
		}
		w.offset, w.hasOffset = (page-1)*size, true
		w.limit, w.hasLimit = size, true
		return nil
	}
}

// Specification bundles a filter predicate, an optional ordering and an
// optional limit/offset window. It is immutable once built.
type Specification[T any] struct {
	predicate Predicate[T]
	order     SortOrder[T]
	window    window
}

// NewSpecification validates its arguments and builds a Specification.
// A nil predicate is rejected; pass All[T]() to match everything. A zero
// SortOrder keeps the source order.
func NewSpecification[T any](predicate Predicate[T], order SortOrder[T], opts ...Option) (*Specification[T], error) {
	if predicate == nil {
		return nil, NewArgumentError("predicate", "must not be nil")
	}
	var w window
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&w); err != nil {
			return nil, err
		}
	}
	return &Specification[T]{
		predicate: predicate,
		order:     order,
		window:    w,
	}, nil
}

// MustSpecification is like NewSpecification but panics on invalid arguments.
// Intended for package-level query definitions.
func MustSpecification[T any](predicate Predicate[T], order SortOrder[T], opts ...Option) *Specification[T] {
	spec, err := NewSpecification(predicate, order, opts...)
	if err != nil {
		panic(err)
	}
	return spec
}

// Predicate returns the filter predicate.
func (s *Specification[T]) Predicate() Predicate[T] {
	return s.predicate
}

// SortOrder returns the ordering and whether one was set.
func (s *Specification[T]) SortOrder() (SortOrder[T], bool) {
	return s.order, !s.order.IsZero()
}

// Limit returns the limit and whether one was set.
func (s *Specification[T]) Limit() (int, bool) {
	return s.window.limit, s.window.hasLimit
}

// Offset returns the offset and whether one was set.
func (s *Specification[T]) Offset() (int, bool) {
	return s.window.offset, s.window.hasOffset
}

// Unbounded returns a copy of s without limit and offset, used for counting.
func (s *Specification[T]) Unbounded() *Specification[T] {
	return &Specification[T]{predicate: s.predicate, order: s.order}
}

// String renders the shape of the specification for logging.
func (s *Specification[T]) String() string {
	out := "where <predicate>"
	if !s.order.IsZero() {
		out += " order by " + s.order.String()
	}
	if s.window.hasOffset {
		out += fmt.Sprintf(" offset %d", s.window.offset)
	}
	if s.window.hasLimit {
		out += fmt.Sprintf(" limit %d", s.window.limit)
	}
	return out
}

// Validate reports a nil specification or a missing predicate as an
// argument error. Executors call it before touching storage.
func (s *Specification[T]) Validate() error {
	if s == nil {
		return NewArgumentError("spec", "must not be nil")
	}
	if s.predicate == nil {
		return NewArgumentError("predicate", "must not be nil")
	}
	return nil
}

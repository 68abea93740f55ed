package query

import (
	"fmt"
	"sort"
	"strings"
)

// FilterBuilder turns a raw request value into a predicate.
type FilterBuilder[T any] func(value string) (Predicate[T], error)

// Fields is an allow-list mapping external field names to typed sort keys
// and filter builders. Names outside the list are rejected, so request
// parameters never reach arbitrary entity fields.
//
// Register fields during setup; a populated Fields is read-only and safe for
// concurrent use.
type Fields[T any] struct {
	sorts   map[string]SortKey[T]
	filters map[string]FilterBuilder[T]
}

// NewFields creates an empty allow-list.
func NewFields[T any]() *Fields[T] {
	return &Fields[T]{
		sorts:   make(map[string]SortKey[T]),
		filters: make(map[string]FilterBuilder[T]),
	}
}

// Sortable allows sorting by key under key.Name().
func (f *Fields[T]) Sortable(keys ...SortKey[T]) *Fields[T] {
	for _, k := range keys {
		f.sorts[strings.ToLower(k.name)] = k
	}
	return f
}

// Filterable allows filtering on name with the given builder.
func (f *Fields[T]) Filterable(name string, build FilterBuilder[T]) *Fields[T] {
	f.filters[strings.ToLower(name)] = build
	return f
}

// SortKey looks up a sortable field.
func (f *Fields[T]) SortKey(name string) (SortKey[T], bool) {
	k, ok := f.sorts[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// SortNames returns the sortable field names in lexical order.
func (f *Fields[T]) SortNames() []string {
	return sortedKeys(f.sorts)
}

// FilterNames returns the filterable field names in lexical order.
func (f *Fields[T]) FilterNames() []string {
	return sortedKeys(f.filters)
}

// ParseSort builds a SortOrder from a comma separated list of field names.
// A leading '-' or a ":desc" suffix selects descending order, a leading '+'
// or ":asc" ascending. The first field is the primary key.
// An empty expression yields the zero SortOrder.
func (f *Fields[T]) ParseSort(expr string) (SortOrder[T], error) {
	var order SortOrder[T]
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return order, nil
	}

	for _, raw := range strings.Split(expr, ",") {
		term := strings.TrimSpace(raw)
		if term == "" {
			continue
		}

		direction := Ascending
		switch {
		case strings.HasPrefix(term, "-"):
			direction, term = Descending, term[1:]
		case strings.HasPrefix(term, "+"):
			term = term[1:]
		}
		if name, dir, found := strings.Cut(term, ":"); found {
			d, err := ParseDirection(dir)
			if err != nil {
				return SortOrder[T]{}, NewArgumentError("sort", fmt.Sprintf("invalid direction in %q", raw))
			}
			direction, term = d, name
		}

		key, ok := f.SortKey(term)
		if !ok {
			return SortOrder[T]{}, NewArgumentError("sort",
				fmt.Sprintf("unknown sort field %q (allowed: %s)", term, strings.Join(f.SortNames(), ", ")))
		}
		if order.IsZero() {
			order = Order(key, direction)
		} else {
			order = order.Then(key, direction)
		}
	}
	return order, nil
}

// ParseFilter combines the builders of every parameter in params with AND.
// Empty values are skipped; unknown names are rejected.
func (f *Fields[T]) ParseFilter(params map[string]string) (Predicate[T], error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	predicates := make([]Predicate[T], 0, len(names))
	for _, name := range names {
		value := strings.TrimSpace(params[name])
		if value == "" {
			continue
		}
		build, ok := f.filters[strings.ToLower(name)]
		if !ok {
			return nil, NewArgumentError("filter",
				fmt.Sprintf("unknown filter field %q (allowed: %s)", name, strings.Join(f.FilterNames(), ", ")))
		}
		p, err := build(value)
		if err != nil {
			return nil, NewArgumentError(name, err.Error())
		}
		predicates = append(predicates, p)
	}
	return And(predicates...), nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

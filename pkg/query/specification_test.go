package query

import (
	"errors"
	"math"
	"testing"
)

func TestNewSpecification_NilPredicate(t *testing.T) {
	spec, err := NewSpecification[widget](nil, OrderBy(bySize))
	if spec != nil {
		t.Fatal("expected no specification")
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if param, ok := ParamOf(err); !ok || param != "predicate" {
		t.Errorf("param = %q, want predicate", param)
	}
}

func TestNewSpecification_Window(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantLimit  int
		hasLimit   bool
		wantOffset int
		hasOffset  bool
		wantParam  string
	}{
		{name: "defaults"},
		{name: "limit and offset", opts: []Option{WithLimit(6), WithOffset(3)}, wantLimit: 6, hasLimit: true, wantOffset: 3, hasOffset: true},
		{name: "zero limit", opts: []Option{WithLimit(0)}, hasLimit: true},
		{name: "page", opts: []Option{WithPage(3, 10)}, wantLimit: 10, hasLimit: true, wantOffset: 20, hasOffset: true},
		{name: "nil option ignored", opts: []Option{nil, WithOffset(1)}, wantOffset: 1, hasOffset: true},
		{name: "negative limit", opts: []Option{WithLimit(-1)}, wantParam: "limit"},
		{name: "negative offset", opts: []Option{WithOffset(-5)}, wantParam: "offset"},
		{name: "page zero", opts: []Option{WithPage(0, 10)}, wantParam: "page"},
		{name: "negative page size", opts: []Option{WithPage(1, -1)}, wantParam: "page_size"},
		{name: "page offset overflows", opts: []Option{WithPage(math.MaxInt/2, 4)}, wantParam: "page"},
		{name: "last representable page", opts: []Option{WithPage(math.MaxInt/4+1, 4)}, wantLimit: 4, hasLimit: true, wantOffset: math.MaxInt / 4 * 4, hasOffset: true},
		{name: "huge page of size zero", opts: []Option{WithPage(math.MaxInt, 0)}, hasLimit: true, hasOffset: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := NewSpecification(All[widget](), SortOrder[widget]{}, tt.opts...)
			if tt.wantParam != "" {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				if param, _ := ParamOf(err); param != tt.wantParam {
					t.Errorf("param = %q, want %q", param, tt.wantParam)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			limit, hasLimit := spec.Limit()
			offset, hasOffset := spec.Offset()
			if limit != tt.wantLimit || hasLimit != tt.hasLimit {
				t.Errorf("limit = (%d, %v), want (%d, %v)", limit, hasLimit, tt.wantLimit, tt.hasLimit)
			}
			if offset != tt.wantOffset || hasOffset != tt.hasOffset {
				t.Errorf("offset = (%d, %v), want (%d, %v)", offset, hasOffset, tt.wantOffset, tt.hasOffset)
			}
		})
	}
}

func TestSpecification_Accessors(t *testing.T) {
	spec := MustSpecification(All[widget](), OrderByDescending(bySize).ThenBy(byName), WithLimit(5), WithOffset(2))

	if _, ok := spec.SortOrder(); !ok {
		t.Error("expected sort order to be set")
	}
	if got := spec.String(); got != "where <predicate> order by size desc, name asc offset 2 limit 5" {
		t.Errorf("String() = %q", got)
	}

	unbounded := spec.Unbounded()
	if _, ok := unbounded.Limit(); ok {
		t.Error("unbounded spec must not carry a limit")
	}
	if _, ok := unbounded.Offset(); ok {
		t.Error("unbounded spec must not carry an offset")
	}
	if _, ok := spec.Limit(); !ok {
		t.Error("Unbounded must not modify the original")
	}
}

func TestMustSpecification_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustSpecification[widget](nil, SortOrder[widget]{})
}

func TestAnd(t *testing.T) {
	big := func(w widget) bool { return w.Size > 5 }
	named := func(w widget) bool { return w.Name == "a" }
	p := And[widget](big, nil, named)

	tests := []struct {
		w    widget
		want bool
	}{
		{w: widget{Name: "a", Size: 6}, want: true},
		{w: widget{Name: "a", Size: 5}, want: false},
		{w: widget{Name: "b", Size: 6}, want: false},
	}
	for _, tt := range tests {
		if got := p(tt.w); got != tt.want {
			t.Errorf("And(%+v) = %v, want %v", tt.w, got, tt.want)
		}
	}
	if !And[widget]()(widget{}) {
		t.Error("empty And must accept everything")
	}
	if None[widget]()(widget{}) {
		t.Error("None must reject everything")
	}
}

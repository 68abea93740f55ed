package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
	"github.com/nimburion/bucketstore/pkg/repository/memory"
)

type box struct {
	ID          string
	Name        string
	Description string
	Size        int
	Version     int64
}

func (b *box) GetVersion() int64  { return b.Version }
func (b *box) SetVersion(v int64) { b.Version = v }

var (
	boxName        = query.By("name", func(b box) string { return b.Name })
	boxDescription = query.By("description", func(b box) string { return b.Description })
	boxSize        = query.By("size", func(b box) int { return b.Size })
)

func newBoxStore() *memory.Store[box, string] {
	return memory.NewStore[box, string](func(b *box) string { return b.ID })
}

// variants returns a pooled and a scoped repository over fresh stores.
func variants() map[string]struct {
	repo  repository.Repository[box, string]
	store *memory.Store[box, string]
} {
	pooledStore, scopedStore := newBoxStore(), newBoxStore()
	return map[string]struct {
		repo  repository.Repository[box, string]
		store *memory.Store[box, string]
	}{
		"pooled": {repo: repository.NewPooled[box, string]("box", pooledStore, nil), store: pooledStore},
		"scoped": {repo: repository.NewScoped[box, string]("box", scopedStore, nil), store: scopedStore},
	}
}

func seedSizes(t *testing.T, repo repository.Repository[box, string]) {
	t.Helper()
	sizes := []int{7, 3, 12, 1, 9, 5, 11, 2, 8, 6, 10, 4}
	batch := make([]*box, len(sizes))
	for i, s := range sizes {
		batch[i] = &box{ID: fmt.Sprintf("b%02d", s), Name: "box", Size: s}
	}
	if err := repo.AddRange(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func sizes(items []box) []int {
	out := make([]int, len(items))
	for i, b := range items {
		out[i] = b.Size
	}
	return out
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRepository_FindScenarios(t *testing.T) {
	for name, v := range variants() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedSizes(t, v.repo)

			asc, err := v.repo.Find(ctx, query.MustSpecification(query.All[box](), query.OrderBy(boxSize)))
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if want := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}; !sameInts(sizes(asc), want) {
				t.Errorf("ascending = %v", sizes(asc))
			}

			page, err := v.repo.Find(ctx, query.MustSpecification(query.All[box](), query.OrderByDescending(boxSize),
				query.WithLimit(6), query.WithOffset(3)))
			if err != nil {
				t.Fatalf("find page: %v", err)
			}
			if want := []int{9, 8, 7, 6, 5, 4}; !sameInts(sizes(page), want) {
				t.Errorf("page = %v", sizes(page))
			}

			none, err := v.repo.Find(ctx, query.MustSpecification(func(box) bool { return false }, query.SortOrder[box]{}))
			if err != nil || len(none) != 0 {
				t.Errorf("false predicate: %v, %v", none, err)
			}

			n, err := v.repo.Count(ctx, query.MustSpecification(func(b box) bool { return b.Size > 10 }, query.SortOrder[box]{}, query.WithLimit(1)))
			if err != nil || n != 2 {
				t.Errorf("count = %d, %v", n, err)
			}
		})
	}
}

func TestRepository_TwoKeyOrder(t *testing.T) {
	for name, v := range variants() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var batch []*box
			i := 0
			for _, n := range []string{"B", "A"} {
				for _, d := range []string{"2", "3", "1", "3", "1", "2"} {
					i++
					batch = append(batch, &box{ID: fmt.Sprint(i), Name: n, Description: d, Size: 1})
				}
			}
			if err := v.repo.AddRange(ctx, batch); err != nil {
				t.Fatalf("add: %v", err)
			}

			got, err := v.repo.Find(ctx, query.MustSpecification(query.All[box](), query.OrderBy(boxName).ThenBy(boxDescription)))
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			want := []string{"A1", "A1", "A2", "A2", "A3", "A3", "B1", "B1", "B2", "B2", "B3", "B3"}
			for j, b := range got {
				if b.Name+b.Description != want[j] {
					t.Fatalf("position %d = %s%s, want %s", j, b.Name, b.Description, want[j])
				}
			}
		})
	}
}

func TestRepository_NilPredicate(t *testing.T) {
	for name, v := range variants() {
		t.Run(name, func(t *testing.T) {
			spec, err := query.NewSpecification[box](nil, query.OrderBy(boxSize))
			if param, _ := query.ParamOf(err); param != "predicate" {
				t.Fatalf("expected predicate argument error, got %v", err)
			}

			_, err = v.repo.Find(context.Background(), spec)
			if !errors.Is(err, query.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if v.store.Active() != 0 {
				t.Error("no session may be held after rejection")
			}
		})
	}
}

func TestRepository_BatchWithNilElement(t *testing.T) {
	for name, v := range variants() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := v.repo.AddRange(ctx, []*box{{ID: "1"}, nil, {ID: "3"}})

			var argErr *query.ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("expected ArgumentError, got %v", err)
			}
			if argErr.Param != "entities" || argErr.Index != 1 {
				t.Errorf("argument error = %+v", argErr)
			}
			if v.store.Len() != 0 {
				t.Errorf("store holds %d entities, want 0", v.store.Len())
			}

			err = v.repo.AddRange(ctx, nil)
			if !errors.As(err, &argErr) || argErr.IsElement() {
				t.Fatalf("nil batch: expected whole-argument error, got %v", err)
			}
			if err := v.repo.RemoveRange(ctx, []*box{nil}); !errors.Is(err, query.ErrInvalidArgument) {
				t.Errorf("remove: expected ErrInvalidArgument, got %v", err)
			}
			if err := v.repo.UpdateRange(ctx, []*box{nil}); !errors.Is(err, query.ErrInvalidArgument) {
				t.Errorf("update: expected ErrInvalidArgument, got %v", err)
			}
			if err := v.repo.Add(ctx, nil); !errors.Is(err, query.ErrInvalidArgument) {
				t.Errorf("add: expected ErrInvalidArgument, got %v", err)
			}
			if err := v.repo.AddRange(ctx, []*box{}); err != nil {
				t.Errorf("empty batch must be a no-op, got %v", err)
			}
		})
	}
}

func TestRepository_Get(t *testing.T) {
	for name, v := range variants() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedSizes(t, v.repo)

			got, err := v.repo.Get(ctx, "b05")
			if err != nil || got == nil || got.Size != 5 {
				t.Fatalf("get = %+v, %v", got, err)
			}

			missing, err := v.repo.Get(ctx, "b99")
			if err != nil {
				t.Fatalf("missing entity must not be an error: %v", err)
			}
			if missing != nil {
				t.Errorf("expected nil, got %+v", missing)
			}

			if _, err := v.repo.Get(ctx, ""); !errors.Is(err, query.ErrInvalidArgument) {
				t.Errorf("empty id: expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestRepository_UpdateAndRemove(t *testing.T) {
	for name, v := range variants() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := &box{ID: "x", Name: "old", Size: 1}
			if err := v.repo.Add(ctx, b); err != nil {
				t.Fatalf("add: %v", err)
			}

			stale, _ := v.repo.Get(ctx, "x")

			b.Name = "new"
			if err := v.repo.Update(ctx, b); err != nil {
				t.Fatalf("update: %v", err)
			}
			if b.Version != 1 {
				t.Errorf("version = %d, want 1", b.Version)
			}

			stale.Name = "lost update"
			if err := v.repo.Update(ctx, stale); !errors.Is(err, repository.ErrConflict) {
				t.Errorf("stale update: expected ErrConflict, got %v", err)
			}

			if err := v.repo.Remove(ctx, b); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if err := v.repo.Remove(ctx, b); !errors.Is(err, query.ErrNotFound) {
				t.Errorf("second remove: expected not found, got %v", err)
			}
		})
	}
}

func TestRepository_Cancellation(t *testing.T) {
	for name, v := range variants() {
		t.Run(name, func(t *testing.T) {
			seedSizes(t, v.repo)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			got, err := v.repo.Find(ctx, query.MustSpecification(query.All[box](), query.OrderBy(boxSize)))
			if !errors.Is(err, query.ErrOperationCancelled) {
				t.Fatalf("expected ErrOperationCancelled, got %v", err)
			}
			if got != nil {
				t.Errorf("expected no result, got %v", got)
			}
			if err := v.repo.Add(ctx, &box{ID: "late"}); !errors.Is(err, query.ErrOperationCancelled) {
				t.Errorf("add: expected ErrOperationCancelled, got %v", err)
			}
			if v.store.Len() != 12 {
				t.Errorf("cancelled add reached the store")
			}
			if v.store.Active() != 0 {
				t.Errorf("active sessions = %d", v.store.Active())
			}
		})
	}
}

func TestPooled_ReleasesOnEveryPath(t *testing.T) {
	store := newBoxStore()
	repo := repository.NewPooled[box, string]("box", store, nil)
	ctx := context.Background()

	_ = repo.Add(ctx, &box{ID: "a"})
	_ = repo.Add(ctx, &box{ID: "a"})
	_, _ = repo.Find(ctx, query.MustSpecification(query.All[box](), query.SortOrder[box]{}))
	_, _ = repo.Get(ctx, "a")

	if store.Active() != 0 {
		t.Fatalf("active sessions = %d after calls", store.Active())
	}
}

func TestScoped_WithTransaction(t *testing.T) {
	store := newBoxStore()
	repo := repository.NewScoped[box, string]("box", store, nil)
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Add(ctx, &box{ID: "a"}); err != nil {
			return err
		}
		got, err := repo.Get(ctx, "a")
		if err != nil || got == nil {
			t.Errorf("unit of work must see its own writes: %v %v", got, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("rolled back write is visible")
	}

	err = repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.AddRange(ctx, []*box{{ID: "a"}, {ID: "b"}}); err != nil {
			return err
		}
		return repo.WithTransaction(ctx, func(ctx context.Context) error {
			return repo.Add(ctx, &box{ID: "c"})
		})
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("len = %d, want 3", store.Len())
	}
	if store.Active() != 0 {
		t.Fatalf("active = %d", store.Active())
	}
}

func TestScoped_RollsBackOnPanic(t *testing.T) {
	store := newBoxStore()
	repo := repository.NewScoped[box, string]("box", store, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = repo.WithTransaction(context.Background(), func(ctx context.Context) error {
			_ = repo.Add(ctx, &box{ID: "a"})
			panic("boom")
		})
	}()

	if store.Len() != 0 || store.Active() != 0 {
		t.Fatalf("len = %d active = %d", store.Len(), store.Active())
	}
}

func TestReadOnly(t *testing.T) {
	store := newBoxStore()
	writer := repository.NewPooled[box, string]("box", store, nil)
	seedSizes(t, writer)

	var reader repository.Reader[box, string] = repository.NewReadOnly[box, string]("box", store, nil)
	got, err := reader.Find(context.Background(), query.MustSpecification(query.All[box](), query.OrderByDescending(boxSize), query.WithLimit(2)))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !sameInts(sizes(got), []int{12, 11}) {
		t.Errorf("sizes = %v", sizes(got))
	}
	if n, _ := reader.Count(context.Background(), query.MustSpecification(query.All[box](), query.SortOrder[box]{})); n != 12 {
		t.Errorf("count = %d", n)
	}
	if b, _ := reader.Get(context.Background(), "b01"); b == nil {
		t.Error("expected entity")
	}
}

func TestNoTransaction(t *testing.T) {
	called := false
	err := repository.NoTransaction.WithTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}

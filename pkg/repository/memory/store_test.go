package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nimburion/bucketstore/pkg/repository"
)

type record struct {
	ID      string
	Name    string
	Version int64
}

func (r *record) GetVersion() int64  { return r.Version }
func (r *record) SetVersion(v int64) { r.Version = v }

func newRecordStore() *Store[record, string] {
	return NewStore[record, string](func(r *record) string { return r.ID })
}

func mustAcquire(t *testing.T, s *Store[record, string]) (repository.Session[record, string], func()) {
	t.Helper()
	session, release, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	return session, release
}

func TestStore_InsertKeepsOrderAndCopies(t *testing.T) {
	s := newRecordStore()
	session, release := mustAcquire(t, s)
	defer release()
	ctx := context.Background()

	a, b, c := &record{ID: "c", Name: "first"}, &record{ID: "a", Name: "second"}, &record{ID: "b", Name: "third"}
	if err := session.Insert(ctx, []*record{a, b, c}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a.Name = "mutated after insert"
	rows, err := session.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 3 || rows[0].ID != "c" || rows[1].ID != "a" || rows[2].ID != "b" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Name != "first" {
		t.Errorf("store aliases caller entity: %q", rows[0].Name)
	}

	rows[1].Name = "mutated result"
	got, _ := session.LoadByID(ctx, "a")
	if got == nil || got.Name != "second" {
		t.Errorf("result aliases store: %+v", got)
	}
}

func TestStore_InsertBatchIsAllOrNothing(t *testing.T) {
	s := newRecordStore()
	session, release := mustAcquire(t, s)
	defer release()
	ctx := context.Background()

	if err := session.Insert(ctx, []*record{{ID: "x"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := session.Insert(ctx, []*record{{ID: "y"}, {ID: "x"}})
	if !errors.Is(err, repository.ErrEntityExists) || !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrEntityExists, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestStore_SaveChecksVersion(t *testing.T) {
	s := newRecordStore()
	session, release := mustAcquire(t, s)
	defer release()
	ctx := context.Background()

	if err := session.Insert(ctx, []*record{{ID: "v", Name: "one"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, _ := session.LoadByID(ctx, "v")
	second, _ := session.LoadByID(ctx, "v")

	first.Name = "two"
	if err := session.Save(ctx, []*record{first}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("version = %d, want 1", first.Version)
	}

	second.Name = "stale"
	var lockErr *repository.OptimisticLockError
	if err := session.Save(ctx, []*record{second}); !errors.As(err, &lockErr) {
		t.Fatalf("expected optimistic lock error, got %v", err)
	}
	if second.Version != 0 {
		t.Errorf("failed save must not bump the caller's version")
	}

	stored, _ := session.LoadByID(ctx, "v")
	if stored.Name != "two" || stored.Version != 1 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestStore_SaveAndDeleteMissing(t *testing.T) {
	s := newRecordStore()
	session, release := mustAcquire(t, s)
	defer release()
	ctx := context.Background()

	if err := session.Save(ctx, []*record{{ID: "nope"}}); !errors.Is(err, repository.ErrEntityNotFound) {
		t.Errorf("save: expected ErrEntityNotFound, got %v", err)
	}
	if err := session.Delete(ctx, []*record{{ID: "nope"}}); !errors.Is(err, repository.ErrEntityNotFound) {
		t.Errorf("delete: expected ErrEntityNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newRecordStore()
	session, release := mustAcquire(t, s)
	defer release()
	ctx := context.Background()

	_ = session.Insert(ctx, []*record{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	if err := session.Delete(ctx, []*record{{ID: "2"}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, _ := session.Load(ctx)
	if len(rows) != 2 || rows[0].ID != "1" || rows[1].ID != "3" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestStore_ReleaseTracksActiveSessions(t *testing.T) {
	s := newRecordStore()
	_, release := mustAcquire(t, s)
	if s.Active() != 1 {
		t.Fatalf("active = %d, want 1", s.Active())
	}
	release()
	release()
	if s.Active() != 0 {
		t.Fatalf("active = %d, want 0", s.Active())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Active() != 0 {
		t.Fatalf("cancelled acquire must not count as active")
	}
}

func TestTx_CommitAndRollback(t *testing.T) {
	s := newRecordStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Insert(ctx, []*record{{ID: "a"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rows, _ := tx.Load(ctx); len(rows) != 1 {
		t.Fatalf("tx must see its own writes")
	}
	if s.Len() != 0 {
		t.Fatalf("uncommitted write is visible")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len after commit = %d", s.Len())
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
		t.Errorf("second commit: expected ErrTxDone, got %v", err)
	}

	tx, _ = s.Begin(ctx)
	_ = tx.Insert(ctx, []*record{{ID: "b"}})
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("rolled back write is visible")
	}
	if _, err := tx.Load(ctx); !errors.Is(err, ErrTxDone) {
		t.Errorf("load after rollback: expected ErrTxDone, got %v", err)
	}
	if s.Active() != 0 {
		t.Errorf("active = %d after finished transactions", s.Active())
	}
}

func TestTx_CommitConflictAbortsEverything(t *testing.T) {
	s := newRecordStore()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	_ = tx.Insert(ctx, []*record{{ID: "a"}, {ID: "b"}})

	session, release := mustAcquire(t, s)
	_ = session.Insert(ctx, []*record{{ID: "b"}})
	release()

	if err := tx.Commit(); !errors.Is(err, repository.ErrEntityExists) {
		t.Fatalf("expected conflict on commit, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestTransactionManager_SerializesAndNests(t *testing.T) {
	m := NewTransactionManager()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithTransaction(ctx, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				err := m.WithTransaction(ctx, func(context.Context) error { return nil })

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
		}()
	}
	wg.Wait()

	if overlap {
		t.Fatal("units of work overlapped")
	}
}

func TestTransactionManager_AllOrNothingAcrossStores(t *testing.T) {
	ctx := context.Background()
	insert := func(ctx context.Context, s *Store[record, string], id string) error {
		session, release, err := s.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		return session.Insert(ctx, []*record{{ID: id}})
	}

	t.Run("commit publishes every store", func(t *testing.T) {
		m, a, b := NewTransactionManager(), newRecordStore(), newRecordStore()
		err := m.WithTransaction(ctx, func(ctx context.Context) error {
			if err := insert(ctx, a, "1"); err != nil {
				return err
			}
			if a.Len() != 0 {
				t.Error("write visible before the unit of work committed")
			}
			return insert(ctx, b, "1")
		})
		if err != nil {
			t.Fatalf("WithTransaction() error = %v", err)
		}
		if a.Len() != 1 || b.Len() != 1 {
			t.Errorf("len = %d, %d, want 1, 1", a.Len(), b.Len())
		}
		if a.Active() != 0 || b.Active() != 0 {
			t.Errorf("active = %d, %d", a.Active(), b.Active())
		}
	})

	t.Run("cancellation after a write rolls back every store", func(t *testing.T) {
		m, a, b := NewTransactionManager(), newRecordStore(), newRecordStore()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		err := m.WithTransaction(ctx, func(ctx context.Context) error {
			if err := insert(ctx, a, "1"); err != nil {
				return err
			}
			cancel()
			return insert(ctx, b, "1")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if a.Len() != 0 || b.Len() != 0 {
			t.Errorf("len = %d, %d, want 0, 0", a.Len(), b.Len())
		}
		if a.Active() != 0 || b.Active() != 0 {
			t.Errorf("active = %d, %d", a.Active(), b.Active())
		}
	})

	t.Run("commit conflict in one store leaves all unchanged", func(t *testing.T) {
		m, a, b := NewTransactionManager(), newRecordStore(), newRecordStore()
		err := m.WithTransaction(ctx, func(ctx context.Context) error {
			if err := insert(ctx, a, "1"); err != nil {
				return err
			}
			if err := insert(ctx, b, "1"); err != nil {
				return err
			}
			// A write outside the unit of work makes b's replay conflict.
			return insert(context.Background(), b, "1")
		})
		if !errors.Is(err, repository.ErrEntityExists) {
			t.Fatalf("expected ErrEntityExists, got %v", err)
		}
		if a.Len() != 0 || b.Len() != 1 {
			t.Errorf("len = %d, %d, want 0, 1", a.Len(), b.Len())
		}
		if a.Active() != 0 || b.Active() != 0 {
			t.Errorf("active = %d, %d", a.Active(), b.Active())
		}
	})

	t.Run("begin inside a unit of work joins it", func(t *testing.T) {
		m, a := NewTransactionManager(), newRecordStore()
		err := m.WithTransaction(ctx, func(ctx context.Context) error {
			tx, err := a.Begin(ctx)
			if err != nil {
				return err
			}
			if err := tx.Insert(ctx, []*record{{ID: "1"}}); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			if a.Len() != 0 {
				t.Error("joined commit published before the unit of work")
			}
			return errors.New("abort")
		})
		if err == nil || a.Len() != 0 {
			t.Errorf("err = %v, len = %d", err, a.Len())
		}
	})
}

package memory

import (
	"context"
	"errors"
	"sync"
)

type journalEntry[T any] struct {
	kind     opKind
	entities []T
}

// txSession reads and writes a private snapshot and replays its journal onto
// the committed rows on Commit. A replay conflict aborts the whole commit.
type txSession[T any, ID comparable] struct {
	store    *Store[T, ID]
	mu       sync.Mutex
	snapshot *state[T, ID]
	journal  []journalEntry[T]
	staged   *state[T, ID]
	done     bool
}

func (t *txSession[T, ID]) Load(ctx context.Context) ([]T, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot.list(), nil
}

func (t *txSession[T, ID]) LoadByID(ctx context.Context, id ID) (*T, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	row, _ := t.snapshot.get(id)
	return row, nil
}

func (t *txSession[T, ID]) Insert(ctx context.Context, entities []*T) error {
	return t.write(ctx, opInsert, entities)
}

func (t *txSession[T, ID]) Save(ctx context.Context, entities []*T) error {
	if err := t.write(ctx, opSave, entities); err != nil {
		return err
	}
	bumpVersions(entities)
	return nil
}

func (t *txSession[T, ID]) Delete(ctx context.Context, entities []*T) error {
	return t.write(ctx, opDelete, entities)
}

func (t *txSession[T, ID]) Commit() error {
	t.lockStore()
	defer t.unlockStore()
	if err := t.prepare(); err != nil {
		if !errors.Is(err, ErrTxDone) {
			_ = t.Rollback()
		}
		return err
	}
	t.apply()
	return nil
}

func (t *txSession[T, ID]) lockStore()   { t.store.mu.Lock() }
func (t *txSession[T, ID]) unlockStore() { t.store.mu.Unlock() }

// prepare replays the journal onto the committed rows. A replay conflict
// leaves the store untouched.
func (t *txSession[T, ID]) prepare() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	next := t.store.data.clone()
	for _, entry := range t.journal {
		if err := next.apply(entry.kind, t.store.idOf, entry.entities); err != nil {
			return err
		}
	}
	t.staged = next
	return nil
}

func (t *txSession[T, ID]) apply() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store.data = t.staged
	t.staged = nil
	t.finish()
}

func (t *txSession[T, ID]) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.finish()
	return nil
}

func (t *txSession[T, ID]) finish() {
	t.done = true
	t.store.active.Add(-1)
}

func (t *txSession[T, ID]) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *txSession[T, ID]) write(ctx context.Context, kind opKind, entities []*T) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := copies(entities)
	next := t.snapshot.clone()
	if err := next.apply(kind, t.store.idOf, rows); err != nil {
		return err
	}
	t.snapshot = next
	t.journal = append(t.journal, journalEntry[T]{kind: kind, entities: rows})
	return nil
}

// joined is a unit member handed out by Begin. The unit commits or rolls back.
type joined[T any, ID comparable] struct {
	*txSession[T, ID]
}

func (joined[T, ID]) Commit() error   { return nil }
func (joined[T, ID]) Rollback() error { return nil }

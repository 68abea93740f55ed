package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimburion/bucketstore/pkg/domain/bucket"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
	"github.com/nimburion/bucketstore/pkg/repository/memory"
	"github.com/nimburion/bucketstore/pkg/resilience"
)

var errDown = errors.New("dial tcp 10.0.0.1:5432: connection refused")

// flakyProvider fails every Load while down is set.
type flakyProvider struct {
	*memory.Store[bucket.Bucket, string]
	down  atomic.Bool
	loads atomic.Int64
}

func (f *flakyProvider) Acquire(ctx context.Context) (repository.Session[bucket.Bucket, string], func(), error) {
	s, release, err := f.Store.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return flakySession{Session: s, p: f}, release, nil
}

type flakySession struct {
	repository.Session[bucket.Bucket, string]
	p *flakyProvider
}

func (s flakySession) Load(ctx context.Context) ([]bucket.Bucket, error) {
	s.p.loads.Add(1)
	if s.p.down.Load() {
		return nil, errDown
	}
	return s.Session.Load(ctx)
}

func all() *query.Specification[bucket.Bucket] {
	return query.MustSpecification(query.All[bucket.Bucket](), query.SortOrder[bucket.Bucket]{})
}

func TestIsStorageFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "not found", err: repository.ErrEntityNotFound, want: false},
		{name: "duplicate", err: repository.ErrEntityExists, want: false},
		{name: "version conflict", err: repository.NewOptimisticLockError("b1", 1, 2), want: false},
		{name: "invalid argument", err: query.NewArgumentError("limit", "must be >= 0"), want: false},
		{name: "cancelled", err: query.Cancelled(ctx.Err()), want: false},
		{name: "deadline", err: fmt.Errorf("load: %w", context.DeadlineExceeded), want: false},
		{name: "connection", err: errDown, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStorageFailure(tt.err); got != tt.want {
				t.Errorf("IsStorageFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestGuard_FailsFastWhileOpen(t *testing.T) {
	ctx := context.Background()
	var states []resilience.State
	cb := NewBreaker(2, time.Hour, logger.NewNop(), func(s resilience.State) { states = append(states, s) })
	p := &flakyProvider{Store: memory.NewStore(bucket.BucketID)}
	repo := repository.NewPooled[bucket.Bucket, string]("bucket", Guard[bucket.Bucket](p, cb), nil)

	if err := repo.Add(ctx, &bucket.Bucket{ID: "b1", Name: "one", Size: 1}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		err := repo.Update(ctx, &bucket.Bucket{ID: "missing", Name: "x", Size: 1})
		if !errors.Is(err, repository.ErrEntityNotFound) {
			t.Fatalf("Update() error = %v", err)
		}
	}
	if cb.State() != resilience.StateClosed {
		t.Fatalf("domain errors opened the circuit")
	}

	p.down.Store(true)
	for i := 0; i < 2; i++ {
		if _, err := repo.Find(ctx, all()); !errors.Is(err, errDown) {
			t.Fatalf("Find() error = %v", err)
		}
	}
	loads := p.loads.Load()

	_, err := repo.Find(ctx, all())
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("Find() error = %v, want ErrUnavailable", err)
	}
	if p.loads.Load() != loads {
		t.Error("open circuit must not reach storage")
	}
	if len(states) != 1 || states[0] != resilience.StateOpen {
		t.Errorf("states = %v", states)
	}

	p.down.Store(false)
	cb.Reset()
	if n, err := repo.Count(ctx, all()); err != nil || n != 1 {
		t.Errorf("Count() = %d, %v", n, err)
	}
}

func TestGuardTx_CommitsThroughBreaker(t *testing.T) {
	ctx := context.Background()
	cb := NewBreaker(1, time.Hour, logger.NewNop(), nil)
	store := memory.NewStore(bucket.BucketID)
	repo := repository.NewScoped[bucket.Bucket, string]("bucket", GuardTx[bucket.Bucket](store, cb), nil)

	err := repo.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.AddRange(ctx, []*bucket.Bucket{
			{ID: "b1", Name: "one", Size: 1},
			{ID: "b2", Name: "two", Size: 2},
		})
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}
	if n, err := repo.Count(ctx, all()); err != nil || n != 2 {
		t.Errorf("Count() = %d, %v", n, err)
	}

	// Trip the breaker directly; the next unit of work must not begin.
	_ = cb.Execute(func() error { return errDown })
	err = repo.WithTransaction(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Errorf("WithTransaction() error = %v, want ErrUnavailable", err)
	}
}

func TestGuard_NilBreakerIsTransparent(t *testing.T) {
	store := memory.NewStore(bucket.BucketID)
	if got := Guard[bucket.Bucket](store, nil); got != repository.SessionProvider[bucket.Bucket, string](store) {
		t.Error("Guard with nil breaker must return the provider unchanged")
	}
	if NewBreaker(0, time.Second, logger.NewNop(), nil) != nil {
		t.Error("zero failures must disable the breaker")
	}
}

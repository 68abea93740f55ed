package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
	"github.com/nimburion/bucketstore/pkg/testutil"
)

type doc struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Size    int    `json:"size"`
	Version int64  `json:"version"`
}

func (d *doc) GetVersion() int64  { return d.Version }
func (d *doc) SetVersion(v int64) { d.Version = v }

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	testutil.RequireDocker(t)
	ctx := context.Background()

	container, err := redis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewProvider_Validation(t *testing.T) {
	idOf := func(d *doc) string { return d.ID }
	if _, err := NewProvider[doc, string](nil, "docs", idOf); err == nil {
		t.Error("expected error for nil client")
	}
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	defer client.Close()
	if _, err := NewProvider[doc, string](client, "", idOf); err == nil {
		t.Error("expected error for empty prefix")
	}
	if _, err := NewProvider[doc, string](client, "docs", nil); err == nil {
		t.Error("expected error for nil id function")
	}
}

func TestRedisStore_Integration(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	provider, err := NewProvider[doc, string](client, "docs", func(d *doc) string { return d.ID })
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	repo := repository.NewPooled[doc, string]("doc", provider, nil)
	bySize := query.By("size", func(d doc) int { return d.Size })

	t.Run("AddRangeAndFind", func(t *testing.T) {
		sizes := []int{7, 3, 12, 1, 9, 5, 11, 2, 8, 6, 10, 4}
		batch := make([]*doc, len(sizes))
		for i, s := range sizes {
			batch[i] = &doc{ID: fmt.Sprintf("d%02d", s), Name: "doc", Size: s}
		}
		if err := repo.AddRange(ctx, batch); err != nil {
			t.Fatalf("AddRange() error = %v", err)
		}

		unsorted, err := repo.Find(ctx, query.MustSpecification(query.All[doc](), query.SortOrder[doc]{}, query.WithLimit(3)))
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if len(unsorted) != 3 || unsorted[0].Size != 7 || unsorted[2].Size != 12 {
			t.Errorf("insertion order lost: %+v", unsorted)
		}

		page, err := repo.Find(ctx, query.MustSpecification(query.All[doc](), query.OrderByDescending(bySize),
			query.WithOffset(3), query.WithLimit(6)))
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		want := []int{9, 8, 7, 6, 5, 4}
		for i, d := range page {
			if d.Size != want[i] {
				t.Fatalf("page = %+v", page)
			}
		}
	})

	t.Run("DuplicateRejectsWholeBatch", func(t *testing.T) {
		err := repo.AddRange(ctx, []*doc{{ID: "fresh"}, {ID: "d01"}})
		if !errors.Is(err, repository.ErrEntityExists) {
			t.Fatalf("expected ErrEntityExists, got %v", err)
		}
		if got, _ := repo.Get(ctx, "fresh"); got != nil {
			t.Error("partial batch was written")
		}
	})

	t.Run("OptimisticUpdate", func(t *testing.T) {
		current, err := repo.Get(ctx, "d05")
		if err != nil || current == nil {
			t.Fatalf("Get() = %v, %v", current, err)
		}
		stale := *current

		current.Name = "renamed"
		if err := repo.Update(ctx, current); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if current.Version != 1 {
			t.Errorf("version = %d", current.Version)
		}
		if err := repo.Update(ctx, &stale); !errors.Is(err, repository.ErrConflict) {
			t.Errorf("stale Update() error = %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if err := repo.Remove(ctx, &doc{ID: "d12"}); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if err := repo.Remove(ctx, &doc{ID: "d12"}); !errors.Is(err, query.ErrNotFound) {
			t.Errorf("second Remove() error = %v", err)
		}
		n, err := repo.Count(ctx, query.MustSpecification(query.All[doc](), query.SortOrder[doc]{}))
		if err != nil || n != 11 {
			t.Errorf("Count() = %d, %v", n, err)
		}
	})
}

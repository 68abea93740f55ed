package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/bucketstore/pkg/domain/bucket"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
	"github.com/nimburion/bucketstore/pkg/repository/dynamostore"
	"github.com/nimburion/bucketstore/pkg/testutil"
)

func TestNewAdapter_RequiresRegion(t *testing.T) {
	if _, err := NewAdapter(Config{}, nil); err == nil {
		t.Fatal("expected error without region")
	}
}

func TestNewAdapter_Unreachable(t *testing.T) {
	_, err := NewAdapter(Config{
		Region:          "eu-west-1",
		Endpoint:        "http://127.0.0.1:1",
		AccessKeyID:     "local",
		SecretAccessKey: "local",
		ConnectTimeout:  500 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Fatal("expected ping error")
	}
}

func startDynamo(t *testing.T) *Adapter {
	t.Helper()
	testutil.RequireDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory"},
			ExposedPorts: []string{"8000/tcp"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start DynamoDB Local container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "8000/tcp", "http")
	if err != nil {
		t.Fatalf("Failed to get endpoint: %v", err)
	}
	adapter, err := NewAdapter(Config{
		Region:          "eu-west-1",
		Endpoint:        endpoint,
		AccessKeyID:     "local",
		SecretAccessKey: "local",
		ConnectTimeout:  10 * time.Second,
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func TestAdapter_Integration(t *testing.T) {
	adapter := startDynamo(t)
	ctx := context.Background()

	if err := adapter.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := adapter.EnsureTable(ctx, "test_buckets", dynamostore.HashKey); err != nil {
			t.Fatalf("EnsureTable() attempt %d error = %v", i, err)
		}
	}

	provider, err := dynamostore.NewProvider(adapter.Client(), "test_buckets", bucket.BucketID)
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewPooled[bucket.Bucket, string]("bucket", provider, nil)

	b := &bucket.Bucket{ID: "b2", Name: "second", Size: 2, CreatedAt: time.Now().UTC()}
	if err := repo.AddRange(ctx, []*bucket.Bucket{
		{ID: "b9", Name: "first", Size: 9, CreatedAt: time.Now().UTC()},
		b,
	}); err != nil {
		t.Fatalf("AddRange() error = %v", err)
	}
	if err := repo.Add(ctx, &bucket.Bucket{ID: "b2", Name: "dup", Size: 1}); !errors.Is(err, repository.ErrEntityExists) {
		t.Errorf("duplicate Add() error = %v", err)
	}

	b.Name = "renamed"
	if err := repo.Update(ctx, b); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	stale := *b
	stale.Version = 0
	var lockErr *repository.OptimisticLockError
	if err := repo.Update(ctx, &stale); !errors.As(err, &lockErr) {
		t.Errorf("stale Update() error = %v", err)
	}

	spec := query.MustSpecification(query.All[bucket.Bucket](), query.SortOrder[bucket.Bucket]{})
	got, err := repo.Find(ctx, spec)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "first" || got[1].Name != "renamed" {
		t.Errorf("Find() = %+v", got)
	}

	if err := repo.Remove(ctx, b); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if n, err := repo.Count(ctx, spec); err != nil || n != 1 {
		t.Errorf("Count() = %d, %v", n, err)
	}

	_ = adapter.Close()
	if err := adapter.HealthCheck(ctx); err == nil {
		t.Error("expected closed adapter to fail health check")
	}
}

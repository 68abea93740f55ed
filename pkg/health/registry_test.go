package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func static(status Status) func(context.Context) CheckResult {
	return func(context.Context) CheckResult { return CheckResult{Status: status} }
}

func TestRegistry_Check(t *testing.T) {
	tests := []struct {
		name      string
		statuses  map[string]Status
		want      Status
		wantReady bool
	}{
		{name: "empty", statuses: nil, want: StatusHealthy, wantReady: true},
		{name: "all healthy", statuses: map[string]Status{"a": StatusHealthy, "b": StatusHealthy}, want: StatusHealthy, wantReady: true},
		{name: "degraded", statuses: map[string]Status{"a": StatusHealthy, "b": StatusDegraded}, want: StatusDegraded, wantReady: true},
		{name: "unhealthy wins", statuses: map[string]Status{"a": StatusDegraded, "b": StatusUnhealthy}, want: StatusUnhealthy, wantReady: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for name, status := range tt.statuses {
				r.RegisterFunc(name, static(status))
			}
			res := r.Check(context.Background())
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s", res.Status, tt.want)
			}
			if res.IsReady() != tt.wantReady {
				t.Errorf("ready = %v, want %v", res.IsReady(), tt.wantReady)
			}
			if len(res.Checks) != len(tt.statuses) {
				t.Errorf("got %d results", len(res.Checks))
			}
		})
	}
}

func TestRegistry_ResultsSortedByName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"storage", "cache", "query"} {
		r.RegisterFunc(name, static(StatusHealthy))
	}
	res := r.Check(context.Background())
	got := []string{res.Checks[0].Name, res.Checks[1].Name, res.Checks[2].Name}
	want := []string{"cache", "query", "storage"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
	if names := r.Names(); len(names) != 3 || names[0] != "cache" {
		t.Errorf("Names() = %v", names)
	}
}

func TestRegistry_RegisterReplacesAndUnregister(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("storage", static(StatusUnhealthy))
	r.RegisterFunc("storage", static(StatusHealthy))

	res, err := r.CheckOne(context.Background(), "storage")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusHealthy {
		t.Errorf("status = %s", res.Status)
	}

	r.Unregister("storage")
	if _, err := r.CheckOne(context.Background(), "storage"); err == nil {
		t.Error("expected an error for an unregistered check")
	}
}

func TestRegistry_ChecksRunConcurrently(t *testing.T) {
	r := NewRegistry()
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	block := func(ctx context.Context) CheckResult {
		started.Done()
		<-release
		return CheckResult{Status: StatusHealthy}
	}
	r.RegisterFunc("a", block)
	r.RegisterFunc("b", block)

	go func() {
		started.Wait()
		close(release)
	}()

	done := make(chan AggregatedResult)
	go func() { done <- r.Check(context.Background()) }()
	select {
	case res := <-done:
		if res.Status != StatusHealthy {
			t.Errorf("status = %s", res.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("checks did not run concurrently")
	}
}

func TestStorageChecker(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		c := NewStorageChecker("storage", "postgres", pingerFunc(func(context.Context) error { return nil }))
		res := c.Check(context.Background())
		if res.Status != StatusHealthy || res.Metadata["driver"] != "postgres" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("failing ping", func(t *testing.T) {
		c := NewStorageChecker("storage", "redis", pingerFunc(func(context.Context) error {
			return errors.New("connection refused")
		}))
		res := c.Check(context.Background())
		if res.Status != StatusUnhealthy || res.Error != "connection refused" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		c := NewStorageChecker("storage", "mongodb", pingerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}), WithTimeout(20*time.Millisecond))
		res := c.Check(context.Background())
		if res.Status != StatusUnhealthy {
			t.Errorf("status = %s", res.Status)
		}
	})

	t.Run("slow ping degrades", func(t *testing.T) {
		c := NewStorageChecker("storage", "mysql", pingerFunc(func(context.Context) error {
			time.Sleep(15 * time.Millisecond)
			return nil
		}), WithDegradedThreshold(time.Millisecond))
		res := c.Check(context.Background())
		if res.Status != StatusDegraded {
			t.Errorf("status = %s", res.Status)
		}
	})
}

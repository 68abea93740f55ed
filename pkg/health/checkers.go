package health

import (
	"context"
	"time"
)

// Pinger is implemented by storage backends.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// StorageChecker pings a storage backend under a timeout. A ping slower
// than the degraded threshold is reported as degraded.
type StorageChecker struct {
	name     string
	driver   string
	target   Pinger
	timeout  time.Duration
	degraded time.Duration
}

// StorageOption configures a StorageChecker.
type StorageOption func(*StorageChecker)

// WithTimeout bounds a single ping. Defaults to 5s.
func WithTimeout(d time.Duration) StorageOption {
	return func(c *StorageChecker) { c.timeout = d }
}

// WithDegradedThreshold reports slow pings as degraded. Zero disables it.
func WithDegradedThreshold(d time.Duration) StorageOption {
	return func(c *StorageChecker) { c.degraded = d }
}

// NewStorageChecker creates a checker named name for the given driver.
func NewStorageChecker(name, driver string, target Pinger, opts ...StorageOption) *StorageChecker {
	c := &StorageChecker{name: name, driver: driver, target: target, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	return c
}

// Check pings the backend.
func (c *StorageChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.target.HealthCheck(checkCtx)
	elapsed := time.Since(start)

	res := CheckResult{
		Name:      c.name,
		Timestamp: time.Now(),
		Duration:  elapsed,
		Metadata:  map[string]interface{}{"driver": c.driver},
	}
	switch {
	case err != nil:
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	case c.degraded > 0 && elapsed > c.degraded:
		res.Status = StatusDegraded
		res.Message = "storage responded slowly"
	default:
		res.Status = StatusHealthy
		res.Message = "OK"
	}
	return res
}

// Name returns the checker name.
func (c *StorageChecker) Name() string { return c.name }

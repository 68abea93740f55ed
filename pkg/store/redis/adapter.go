// Package redis manages the go-redis client behind the redis storage driver.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/bucketstore/pkg/observability/logger"
)

// Adapter owns a pooled Redis client.
type Adapter struct {
	client *redis.Client
	logger logger.Logger
}

// Config holds Redis connection configuration
type Config struct {
	URL              string
	MaxConns         int
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// options turns cfg into client options without connecting.
func (cfg Config) options() (*redis.Options, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}
	return opts, nil
}

// NewAdapter creates a client pool and verifies it with a ping.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis connection established",
		"pool_size", opts.PoolSize,
		"operation_timeout", cfg.OperationTimeout,
	)
	return &Adapter{client: client, logger: log}, nil
}

// Client returns the underlying *redis.Client
func (a *Adapter) Client() *redis.Client {
	return a.client
}

// HealthCheck verifies the Redis connection is healthy with a timeout
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the Redis connection
func (a *Adapter) Close() error {
	a.logger.Info("closing Redis connection")
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}

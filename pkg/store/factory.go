package store

import (
	"context"
	"fmt"

	"github.com/nimburion/bucketstore/pkg/config"
	"github.com/nimburion/bucketstore/pkg/domain/bucket"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/observability/metrics"
	"github.com/nimburion/bucketstore/pkg/repository"
	"github.com/nimburion/bucketstore/pkg/repository/document"
	"github.com/nimburion/bucketstore/pkg/repository/dynamostore"
	"github.com/nimburion/bucketstore/pkg/repository/memory"
	"github.com/nimburion/bucketstore/pkg/repository/redisstore"
	"github.com/nimburion/bucketstore/pkg/repository/sqlstore"
	"github.com/nimburion/bucketstore/pkg/resilience"
	"github.com/nimburion/bucketstore/pkg/store/dynamodb"
	"github.com/nimburion/bucketstore/pkg/store/mongodb"
	"github.com/nimburion/bucketstore/pkg/store/redis"
	"github.com/nimburion/bucketstore/pkg/store/sqldb"
)

// Backend bundles the bucket repositories built over one storage driver.
// Tx spans both repositories: units of work run through it see and commit
// bucket and item changes together where the driver supports it.
type Backend struct {
	Driver  string
	Variant string
	Buckets repository.Repository[bucket.Bucket, string]
	// BucketReader reads through the bucket provider without write access.
	BucketReader repository.Reader[bucket.Bucket, string]
	Items        repository.Repository[bucket.Item, string]
	Tx           repository.TransactionManager
	Adapter      Adapter
	// Breaker guards remote drivers; nil for memory or when disabled.
	Breaker *resilience.CircuitBreaker
}

// HealthCheck checks the underlying storage.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.Adapter.HealthCheck(ctx)
}

// Close releases the underlying storage.
func (b *Backend) Close() error {
	return b.Adapter.Close()
}

type provider[T any] interface {
	repository.SessionProvider[T, string]
	repository.TxProvider[T, string]
}

func build[T any](entity, variant string, p provider[T], log logger.Logger) repository.Repository[T, string] {
	if variant == config.VariantScoped {
		return repository.NewScoped[T, string](entity, p, log)
	}
	return repository.NewPooled[T, string](entity, p, log)
}

// Open connects the configured driver and builds the repositories.
func Open(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.NewNop()
	}
	variant := cfg.Variant
	if variant == "" {
		variant = config.VariantPooled
	}
	b := &Backend{Driver: cfg.Driver, Variant: variant}
	if cfg.Driver != config.DriverMemory && cfg.Driver != "" {
		b.Breaker = NewBreaker(cfg.BreakerFailures, cfg.BreakerReset, log, func(s resilience.State) {
			metrics.SetStorageCircuitState(int(s))
		})
	}

	switch cfg.Driver {
	case config.DriverMemory, "":
		buckets := memory.NewStore[bucket.Bucket, string](bucket.BucketID)
		items := memory.NewStore[bucket.Item, string](bucket.ItemID)
		b.Driver = config.DriverMemory
		b.Buckets = build[bucket.Bucket]("bucket", variant, buckets, log)
		b.BucketReader = repository.NewReadOnly[bucket.Bucket, string]("bucket", buckets, log)
		b.Items = build[bucket.Item]("item", variant, items, log)
		b.Tx = memory.NewTransactionManager()
		b.Adapter = Group{buckets, items}

	case config.DriverPostgres, config.DriverMySQL:
		dialect := sqlstore.Dialect(cfg.Driver)
		adapter, err := sqldb.NewAdapter(sqldb.Config{
			Dialect:         dialect,
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := openSQL(ctx, b, adapter, cfg.AutoMigrate, log); err != nil {
			_ = adapter.Close()
			return nil, err
		}

	case config.DriverRedis:
		if variant == config.VariantScoped {
			return nil, fmt.Errorf("redis driver: %w", repository.ErrNotTransactional)
		}
		adapter, err := redis.NewAdapter(redis.Config{
			URL:              cfg.URL,
			MaxConns:         cfg.MaxOpenConns,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := openRedis(b, adapter, cfg.KeyPrefix, log); err != nil {
			_ = adapter.Close()
			return nil, err
		}

	case config.DriverMongoDB:
		if variant == config.VariantScoped {
			return nil, fmt.Errorf("mongodb driver: %w", repository.ErrNotTransactional)
		}
		adapter, err := mongodb.NewAdapter(mongodb.Config{
			URL:            cfg.URL,
			Database:       cfg.Database,
			MaxConns:       cfg.MaxOpenConns,
			ConnectTimeout: cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := openMongo(ctx, b, adapter, cfg.AutoMigrate, log); err != nil {
			_ = adapter.Close()
			return nil, err
		}

	case config.DriverDynamoDB:
		if variant == config.VariantScoped {
			return nil, fmt.Errorf("dynamodb driver: %w", repository.ErrNotTransactional)
		}
		adapter, err := dynamodb.NewAdapter(dynamodb.Config{
			Region:          cfg.Region,
			Endpoint:        cfg.URL,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			ConnectTimeout:  cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := openDynamo(ctx, b, adapter, cfg.KeyPrefix, cfg.AutoMigrate, log); err != nil {
			_ = adapter.Close()
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported storage.driver %q (supported: memory, postgres, mysql, redis, mongodb, dynamodb)", cfg.Driver)
	}

	log.Info("storage opened", "driver", b.Driver, "variant", b.Variant)
	return b, nil
}

func openSQL(ctx context.Context, b *Backend, adapter *sqldb.Adapter, migrate bool, log logger.Logger) error {
	if migrate {
		if err := adapter.Migrate(ctx, bucket.Schema(adapter.Dialect())); err != nil {
			return err
		}
	}
	buckets, err := sqlstore.NewProvider(adapter.DB(), bucket.BucketTable(adapter.Dialect()))
	if err != nil {
		return err
	}
	items, err := sqlstore.NewProvider(adapter.DB(), bucket.ItemTable(adapter.Dialect()))
	if err != nil {
		return err
	}
	guarded := GuardTx[bucket.Bucket](buckets, b.Breaker)
	b.Buckets = build[bucket.Bucket]("bucket", b.Variant, guarded, log)
	b.BucketReader = repository.NewReadOnly[bucket.Bucket, string]("bucket", guarded, log)
	b.Items = build[bucket.Item]("item", b.Variant, GuardTx[bucket.Item](items, b.Breaker), log)
	b.Tx = sqlstore.NewTxManager(adapter.DB(), log)
	b.Adapter = adapter
	return nil
}

func openRedis(b *Backend, adapter *redis.Adapter, prefix string, log logger.Logger) error {
	if prefix == "" {
		prefix = "bucketstore"
	}
	buckets, err := redisstore.NewProvider(adapter.Client(), prefix+":"+bucket.BucketsTable, bucket.BucketID)
	if err != nil {
		return err
	}
	items, err := redisstore.NewProvider(adapter.Client(), prefix+":"+bucket.ItemsTable, bucket.ItemID)
	if err != nil {
		return err
	}
	guarded := Guard[bucket.Bucket](buckets, b.Breaker)
	b.Buckets = repository.NewPooled[bucket.Bucket, string]("bucket", guarded, log)
	b.BucketReader = repository.NewReadOnly[bucket.Bucket, string]("bucket", guarded, log)
	b.Items = repository.NewPooled[bucket.Item, string]("item", Guard[bucket.Item](items, b.Breaker), log)
	b.Tx = repository.NoTransaction
	b.Adapter = adapter
	return nil
}

func openMongo(ctx context.Context, b *Backend, adapter *mongodb.Adapter, migrate bool, log logger.Logger) error {
	buckets, err := document.NewProvider(adapter.Collection(bucket.BucketsTable), bucket.BucketID)
	if err != nil {
		return err
	}
	items, err := document.NewProvider(adapter.Collection(bucket.ItemsTable), bucket.ItemID)
	if err != nil {
		return err
	}
	if migrate {
		if err := buckets.EnsureIndexes(ctx); err != nil {
			return err
		}
		if err := items.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	guarded := Guard[bucket.Bucket](buckets, b.Breaker)
	b.Buckets = repository.NewPooled[bucket.Bucket, string]("bucket", guarded, log)
	b.BucketReader = repository.NewReadOnly[bucket.Bucket, string]("bucket", guarded, log)
	b.Items = repository.NewPooled[bucket.Item, string]("item", Guard[bucket.Item](items, b.Breaker), log)
	b.Tx = repository.NoTransaction
	b.Adapter = adapter
	return nil
}

func openDynamo(ctx context.Context, b *Backend, adapter *dynamodb.Adapter, prefix string, migrate bool, log logger.Logger) error {
	if prefix == "" {
		prefix = "bucketstore"
	}
	bucketsTable, itemsTable := prefix+"_"+bucket.BucketsTable, prefix+"_"+bucket.ItemsTable
	if migrate {
		for _, table := range []string{bucketsTable, itemsTable} {
			if err := adapter.EnsureTable(ctx, table, dynamostore.HashKey); err != nil {
				return err
			}
		}
	}
	buckets, err := dynamostore.NewProvider(adapter.Client(), bucketsTable, bucket.BucketID)
	if err != nil {
		return err
	}
	items, err := dynamostore.NewProvider(adapter.Client(), itemsTable, bucket.ItemID)
	if err != nil {
		return err
	}
	guarded := Guard[bucket.Bucket](buckets, b.Breaker)
	b.Buckets = repository.NewPooled[bucket.Bucket, string]("bucket", guarded, log)
	b.BucketReader = repository.NewReadOnly[bucket.Bucket, string]("bucket", guarded, log)
	b.Items = repository.NewPooled[bucket.Item, string]("item", Guard[bucket.Item](items, b.Breaker), log)
	b.Tx = repository.NoTransaction
	b.Adapter = adapter
	return nil
}

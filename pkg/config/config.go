// Package config loads the bucketstore service configuration.
package config

import "time"

// Storage driver constants
const (
	// DriverMemory keeps every entity in process memory
	DriverMemory = "memory"
	// DriverPostgres stores entities in PostgreSQL
	DriverPostgres = "postgres"
	// DriverMySQL stores entities in MySQL
	DriverMySQL = "mysql"
	// DriverRedis stores entities in Redis hashes
	DriverRedis = "redis"
	// DriverMongoDB stores entities in MongoDB collections
	DriverMongoDB = "mongodb"
	// DriverDynamoDB stores entities in DynamoDB tables
	DriverDynamoDB = "dynamodb"
)

// Repository variant constants
const (
	// VariantPooled acquires a storage session per repository call
	VariantPooled = "pooled"
	// VariantScoped binds repository calls to a unit of work
	VariantScoped = "scoped"
)

// Config is the root configuration structure of the service
type Config struct {
	Service    ServiceConfig
	HTTP       HTTPConfig
	Management ManagementConfig
	Log        LogConfig
	Storage    StorageConfig
	Query      QueryConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the public API server
type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size"`
	// RequestTimeout bounds each API request; zero disables the deadline.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Responses of at least CompressionMinSize bytes are Brotli or Gzip
	// encoded when the client accepts it.
	CompressionEnabled bool `mapstructure:"compression_enabled"`
	CompressionMinSize int  `mapstructure:"compression_min_size"`
}

// ManagementConfig configures the management server
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MTLSEnabled  bool          `mapstructure:"mtls_enabled"`
	TLSCertFile  string        `mapstructure:"tls_cert_file"`
	TLSKeyFile   string        `mapstructure:"tls_key_file"`
	TLSCAFile    string        `mapstructure:"tls_ca_file"`
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// StorageConfig selects the storage backend and the repository variant.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`  // memory, postgres, mysql, redis, mongodb, dynamodb
	Variant         string        `mapstructure:"variant"` // pooled, scoped
	URL             string        `mapstructure:"url"`
	Database        string        `mapstructure:"database"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// DynamoDB only. URL, when set, overrides the service endpoint and
	// KeyPrefix prefixes table names. Empty keys use the default AWS
	// credential chain.
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// BreakerFailures consecutive storage failures open the circuit for
	// BreakerReset. Zero disables the breaker. Ignored by the memory driver.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset"`
}

// QueryConfig bounds the list endpoints.
type QueryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig configures the per-client rate limit of the public API.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	Burst             int  `mapstructure:"burst"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "bucketstore",
			Environment: "production",
		},
		HTTP: HTTPConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxRequestSize: 1 << 20,
			RequestTimeout: 15 * time.Second,

			CompressionEnabled: true,
			CompressionMinSize: 1024,
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Driver:          DriverMemory,
			Variant:         VariantPooled,
			Database:        "bucketstore",
			KeyPrefix:       "bucketstore",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			QueryTimeout:    10 * time.Second,
			AutoMigrate:     true,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Query: QueryConfig{
			DefaultLimit: 50,
			MaxLimit:     500,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			Burst:             200,
		},
	}
}

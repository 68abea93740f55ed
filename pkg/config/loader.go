package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable read by the loader.
const DefaultEnvPrefix = "BUCKETSTORE"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables; empty means BUCKETSTORE
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	if strings.TrimSpace(envPrefix) == "" {
		envPrefix = DefaultEnvPrefix
	}
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  strings.ToUpper(strings.TrimSpace(envPrefix)),
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKeys lists every configuration key that can be overridden from the
// environment. BUCKETSTORE_STORAGE_URL overrides storage.url and so on.
var envKeys = []string{
	"service.name",
	"service.environment",
	"http.port",
	"http.read_timeout",
	"http.write_timeout",
	"http.idle_timeout",
	"http.max_request_size",
	"http.request_timeout",
	"http.compression_enabled",
	"http.compression_min_size",
	"management.enabled",
	"management.port",
	"management.read_timeout",
	"management.write_timeout",
	"management.mtls_enabled",
	"management.tls_cert_file",
	"management.tls_key_file",
	"management.tls_ca_file",
	"log.level",
	"log.format",
	"storage.driver",
	"storage.variant",
	"storage.url",
	"storage.database",
	"storage.key_prefix",
	"storage.max_open_conns",
	"storage.max_idle_conns",
	"storage.conn_max_lifetime",
	"storage.conn_max_idle_time",
	"storage.connect_timeout",
	"storage.query_timeout",
	"storage.auto_migrate",
	"storage.region",
	"storage.access_key_id",
	"storage.secret_access_key",
	"storage.breaker_failures",
	"storage.breaker_reset",
	"query.default_limit",
	"query.max_limit",
	"tracing.enabled",
	"tracing.endpoint",
	"tracing.sample_rate",
	"rate_limit.enabled",
	"rate_limit.requests_per_second",
	"rate_limit.burst",
}

func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key, l.EnvName(key))
	}
}

// EnvName returns the environment variable bound to a configuration key.
func (l *ViperLoader) EnvName(key string) string {
	return l.envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)
	v.SetDefault("http.request_timeout", cfg.HTTP.RequestTimeout)
	v.SetDefault("http.compression_enabled", cfg.HTTP.CompressionEnabled)
	v.SetDefault("http.compression_min_size", cfg.HTTP.CompressionMinSize)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.variant", cfg.Storage.Variant)
	v.SetDefault("storage.url", cfg.Storage.URL)
	v.SetDefault("storage.database", cfg.Storage.Database)
	v.SetDefault("storage.key_prefix", cfg.Storage.KeyPrefix)
	v.SetDefault("storage.max_open_conns", cfg.Storage.MaxOpenConns)
	v.SetDefault("storage.max_idle_conns", cfg.Storage.MaxIdleConns)
	v.SetDefault("storage.conn_max_lifetime", cfg.Storage.ConnMaxLifetime)
	v.SetDefault("storage.conn_max_idle_time", cfg.Storage.ConnMaxIdleTime)
	v.SetDefault("storage.connect_timeout", cfg.Storage.ConnectTimeout)
	v.SetDefault("storage.query_timeout", cfg.Storage.QueryTimeout)
	v.SetDefault("storage.auto_migrate", cfg.Storage.AutoMigrate)
	v.SetDefault("storage.region", cfg.Storage.Region)
	v.SetDefault("storage.access_key_id", cfg.Storage.AccessKeyID)
	v.SetDefault("storage.secret_access_key", cfg.Storage.SecretAccessKey)
	v.SetDefault("storage.breaker_failures", cfg.Storage.BreakerFailures)
	v.SetDefault("storage.breaker_reset", cfg.Storage.BreakerReset)

	v.SetDefault("query.default_limit", cfg.Query.DefaultLimit)
	v.SetDefault("query.max_limit", cfg.Query.MaxLimit)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)

	v.SetDefault("rate_limit.enabled", cfg.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", cfg.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
}

// Validate validates the configuration and returns every violation joined.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Storage.Variant = strings.ToLower(strings.TrimSpace(cfg.Storage.Variant))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", cfg.HTTP.Port))
	}
	if cfg.HTTP.MaxRequestSize <= 0 {
		errs = append(errs, errors.New("http.max_request_size must be positive"))
	}
	if cfg.HTTP.RequestTimeout < 0 {
		errs = append(errs, errors.New("http.request_timeout must not be negative"))
	}
	if cfg.HTTP.CompressionMinSize < 0 {
		errs = append(errs, errors.New("http.compression_min_size must not be negative"))
	}
	if cfg.Management.Enabled {
		if cfg.Management.Port < 1 || cfg.Management.Port > 65535 {
			errs = append(errs, fmt.Errorf("management.port must be between 1 and 65535, got %d", cfg.Management.Port))
		}
		if cfg.Management.Port == cfg.HTTP.Port {
			errs = append(errs, errors.New("management.port must differ from http.port"))
		}
		if cfg.Management.MTLSEnabled &&
			(cfg.Management.TLSCertFile == "" || cfg.Management.TLSKeyFile == "" || cfg.Management.TLSCAFile == "") {
			errs = append(errs, errors.New("management.tls_cert_file, tls_key_file and tls_ca_file are required when mtls is enabled"))
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("invalid log.level: %s (must be one of: %v)", cfg.Log.Level, validLevels))
	}
	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, cfg.Log.Format) {
		errs = append(errs, fmt.Errorf("invalid log.format: %s (must be one of: %v)", cfg.Log.Format, validFormats))
	}

	errs = append(errs, validateStorage(cfg.Storage)...)

	if cfg.Query.DefaultLimit < 1 {
		errs = append(errs, errors.New("query.default_limit must be at least 1"))
	}
	if cfg.Query.MaxLimit < cfg.Query.DefaultLimit {
		errs = append(errs, errors.New("query.max_limit must be >= query.default_limit"))
	}

	if cfg.Tracing.Enabled {
		if strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
			errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			errs = append(errs, errors.New("tracing.sample_rate must be between 0 and 1"))
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, errors.New("rate_limit.requests_per_second must be positive"))
		}
		if cfg.RateLimit.Burst <= 0 {
			errs = append(errs, errors.New("rate_limit.burst must be positive"))
		}
	}

	return errors.Join(errs...)
}

func validateStorage(s StorageConfig) []error {
	var errs []error

	drivers := []string{DriverMemory, DriverPostgres, DriverMySQL, DriverRedis, DriverMongoDB, DriverDynamoDB}
	if !slices.Contains(drivers, s.Driver) {
		errs = append(errs, fmt.Errorf("invalid storage.driver: %s (must be one of: %v)", s.Driver, drivers))
		return errs
	}
	variants := []string{VariantPooled, VariantScoped}
	if !slices.Contains(variants, s.Variant) {
		errs = append(errs, fmt.Errorf("invalid storage.variant: %s (must be one of: %v)", s.Variant, variants))
	}
	if s.Variant == VariantScoped && (s.Driver == DriverRedis || s.Driver == DriverMongoDB || s.Driver == DriverDynamoDB) {
		errs = append(errs, fmt.Errorf("storage.variant scoped is not supported by the %s driver", s.Driver))
	}

	if s.Driver == DriverMemory {
		return errs
	}
	if s.Driver == DriverDynamoDB {
		if strings.TrimSpace(s.Region) == "" {
			errs = append(errs, errors.New("storage.region is required for DynamoDB"))
		}
		if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
			errs = append(errs, errors.New("storage.access_key_id and storage.secret_access_key must be set together"))
		}
	} else if strings.TrimSpace(s.URL) == "" {
		errs = append(errs, fmt.Errorf("storage.url is required for the %s driver", s.Driver))
	}
	if s.Driver == DriverMongoDB && strings.TrimSpace(s.Database) == "" {
		errs = append(errs, errors.New("storage.database is required for MongoDB"))
	}
	if (s.Driver == DriverRedis || s.Driver == DriverDynamoDB) && strings.TrimSpace(s.KeyPrefix) == "" {
		errs = append(errs, fmt.Errorf("storage.key_prefix is required for the %s driver", s.Driver))
	}
	if s.MaxOpenConns < 0 || s.MaxIdleConns < 0 {
		errs = append(errs, errors.New("storage connection pool sizes must not be negative"))
	}
	if s.BreakerFailures < 0 || s.BreakerReset < 0 {
		errs = append(errs, errors.New("storage.breaker_failures and storage.breaker_reset must not be negative"))
	}
	return errs
}

// RedactURL masks the password of a connection URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// Package config loads the fetch engine's runtime configuration: which
// credential provider, KV store, storage sink, and notification publisher
// to wire up, plus ambient logging/tracing/metrics settings. Precedence for
// every setting is CLI flag > component-specific env var > generic env var
// > built-in default, matching the engine's documented configuration
// contract.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CredentialProviderConfig selects and configures the credentials.Provider
// backend.
type CredentialProviderConfig struct {
	Type       string // "secretsmanager" or "env"
	Region     string // AWS region, secretsmanager only
	Endpoint   string // optional AWS endpoint override (e.g. localstack), secretsmanager only
	NameFormat string // secret name fmt string, secretsmanager only
	EnvPrefix  string // env var prefix, env only
}

// KVStoreConfig selects and configures the kvs.Store backend.
type KVStoreConfig struct {
	Type      string // "memory", "redis", or "tiered" (memory L1 over redis L2)
	Addr      string // redis / tiered only
	Password  string // redis / tiered only
	DB        int    // redis / tiered only
	KeyPrefix string // redis / tiered only
	L1TTL     time.Duration // tiered only; defaults to 10s
}

// StorageConfig selects and configures the bundlestore.Sink backend, plus
// any decorators layered in front of it.
type StorageConfig struct {
	Type string // "file", "s3"

	FileRoot string // file only

	S3Bucket     string // s3 only
	S3RegistryID string // s3 only
	S3Region     string // s3 only
	S3Endpoint   string // s3 only

	GzipDecorator    bool
	ArchiveDecorator string // "", "tar", or "zip"
}

// NotifyConfig selects and configures the notify.Publisher backend.
type NotifyConfig struct {
	Type string // "memory", "sqs", "grpc"

	SQSQueueURL string // sqs only

	GRPCAddr   string // grpc only
	GRPCMethod string // grpc only
}

// CheckpointDBConfig configures the optional Postgres audit side-channel.
// Empty DSN disables it entirely.
type CheckpointDBConfig struct {
	DSN string
}

// AWSConfig carries the region/profile settings shared by every AWS SDK
// client the engine constructs (Secrets Manager, S3, SQS).
type AWSConfig struct {
	Region  string
	Profile string
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text" or "json"
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool
	Exporter    string // "otlp-http", "otlp" or "" (OTLP over HTTP), or "noop"
	Endpoint    string
	ServiceName string
	SampleRate  float64
}

// MetricsConfig controls the Prometheus metrics registry.
type MetricsConfig struct {
	Enabled          bool
	Namespace        string
	HistogramBuckets []float64
}

// HTTPPoolConfig is the dial/retry/rate-limit shape of the HTTP connection
// pool; recipes select a pool by name and do not override these settings.
type HTTPPoolConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	MaxRetries    int
	PoolMaxSize   int
}

// SFTPPoolConfig is the dial/retry/rate-limit shape of the SFTP connection
// pool; recipes select a pool by name and do not override these settings.
type SFTPPoolConfig struct {
	ConnectTimeout time.Duration
	RatePerSecond  float64
	MaxRetries     int
	PoolMaxSize    int
	HostKeyVerify  bool
	KnownHostsPath string
}

// DaemonConfig controls the CLI's long-running surfaces (health/status).
type DaemonConfig struct {
	HTTPAddr string
}

// RateLimitConfig selects between a per-instance local gate and a Redis-
// backed gate shared by every fetchengine instance pointed at the same
// upstream.
type RateLimitConfig struct {
	Backend  string // "local" (default) or "redis"
	Addr     string // redis only
	Password string // redis only
	DB       int    // redis only
}

// Config is the fetch engine's complete runtime configuration.
type Config struct {
	CredentialProvider CredentialProviderConfig
	KVStore            KVStoreConfig
	Storage            StorageConfig
	Notify             NotifyConfig
	CheckpointDB       CheckpointDBConfig
	AWS                AWSConfig
	Logging            LoggingConfig
	Tracing            TracingConfig
	Metrics            MetricsConfig
	HTTPPool           HTTPPoolConfig
	SFTPPool           SFTPPoolConfig
	Daemon             DaemonConfig
	RateLimit          RateLimitConfig
	Concurrency        int
}

// DefaultConfig returns the engine's built-in defaults: an in-memory KV
// store, an env-based credential provider, a local filesystem storage sink,
// and an in-memory notification publisher — a configuration that runs
// end-to-end with no external dependencies, suitable for development and
// the property tests.
func DefaultConfig() *Config {
	return &Config{
		CredentialProvider: CredentialProviderConfig{Type: "env", EnvPrefix: "OC_CRED_"},
		KVStore:            KVStoreConfig{Type: "memory"},
		Storage:            StorageConfig{Type: "file", FileRoot: "./fetchengine-data"},
		Notify:             NotifyConfig{Type: "memory"},
		Logging:            LoggingConfig{Level: "info", Format: "text"},
		Tracing:            TracingConfig{Enabled: false, SampleRate: 0.1, ServiceName: "fetchengine"},
		Metrics:            MetricsConfig{Enabled: true, Namespace: "fetchengine"},
		HTTPPool: HTTPPoolConfig{
			Timeout:       30 * time.Second,
			RatePerSecond: 5,
			MaxRetries:    5,
			PoolMaxSize:   10,
		},
		SFTPPool: SFTPPoolConfig{
			ConnectTimeout: 10 * time.Second,
			RatePerSecond:  5,
			MaxRetries:     5,
			PoolMaxSize:    5,
		},
		Daemon:      DaemonConfig{HTTPAddr: ":8090"},
		RateLimit:   RateLimitConfig{Backend: "local"},
		Concurrency: 4,
	}
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := parseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(name string, def float64) float64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("config: not a boolean: %q", s)
	}
}

// LoadFromEnv overlays environment variables onto cfg following the
// engine's OC_* naming convention. CLI flags applied by the caller after
// LoadFromEnv take final precedence over everything this function sets.
func LoadFromEnv(cfg *Config) {
	cfg.CredentialProvider.Type = envOr("OC_CREDENTIAL_PROVIDER_TYPE", cfg.CredentialProvider.Type)
	cfg.CredentialProvider.Region = envOr("OC_CREDENTIAL_PROVIDER_REGION", envOr("AWS_REGION", cfg.CredentialProvider.Region))
	cfg.CredentialProvider.Endpoint = envOr("OC_CREDENTIAL_PROVIDER_ENDPOINT", cfg.CredentialProvider.Endpoint)
	cfg.CredentialProvider.NameFormat = envOr("OC_CREDENTIAL_PROVIDER_NAME_FORMAT", cfg.CredentialProvider.NameFormat)
	cfg.CredentialProvider.EnvPrefix = envOr("OC_CREDENTIAL_PROVIDER_ENV_PREFIX", cfg.CredentialProvider.EnvPrefix)

	cfg.KVStore.Type = envOr("OC_KV_STORE_TYPE", cfg.KVStore.Type)
	cfg.KVStore.Addr = envOr("OC_KV_STORE_ADDR", cfg.KVStore.Addr)
	cfg.KVStore.Password = envOr("OC_KV_STORE_PASSWORD", cfg.KVStore.Password)
	cfg.KVStore.DB = envInt("OC_KV_STORE_DB", cfg.KVStore.DB)
	cfg.KVStore.KeyPrefix = envOr("OC_KV_STORE_KEY_PREFIX", cfg.KVStore.KeyPrefix)
	cfg.KVStore.L1TTL = envDuration("OC_KV_STORE_L1_TTL", cfg.KVStore.L1TTL)

	cfg.Storage.Type = envOr("OC_STORAGE_TYPE", cfg.Storage.Type)
	cfg.Storage.FileRoot = envOr("OC_STORAGE_FILE_ROOT", cfg.Storage.FileRoot)
	cfg.Storage.S3Bucket = envOr("OC_STORAGE_S3_BUCKET", cfg.Storage.S3Bucket)
	cfg.Storage.S3RegistryID = envOr("OC_STORAGE_S3_REGISTRY_ID", cfg.Storage.S3RegistryID)
	cfg.Storage.S3Region = envOr("OC_STORAGE_S3_REGION", envOr("AWS_REGION", cfg.Storage.S3Region))
	cfg.Storage.S3Endpoint = envOr("OC_STORAGE_S3_ENDPOINT", cfg.Storage.S3Endpoint)
	cfg.Storage.GzipDecorator = envBool("OC_STORAGE_GZIP_DECORATOR", cfg.Storage.GzipDecorator)
	cfg.Storage.ArchiveDecorator = envOr("OC_STORAGE_ARCHIVE_DECORATOR", cfg.Storage.ArchiveDecorator)

	cfg.Notify.Type = envOr("OC_NOTIFY_TYPE", cfg.Notify.Type)
	cfg.Notify.SQSQueueURL = envOr("OC_SQS_QUEUE_URL", cfg.Notify.SQSQueueURL)
	cfg.Notify.GRPCAddr = envOr("OC_NOTIFY_GRPC_ADDR", cfg.Notify.GRPCAddr)
	cfg.Notify.GRPCMethod = envOr("OC_NOTIFY_GRPC_METHOD", cfg.Notify.GRPCMethod)

	cfg.CheckpointDB.DSN = envOr("OC_CHECKPOINTDB_DSN", cfg.CheckpointDB.DSN)

	cfg.AWS.Region = envOr("AWS_REGION", cfg.AWS.Region)
	cfg.AWS.Profile = envOr("AWS_PROFILE", cfg.AWS.Profile)

	cfg.Logging.Level = envOr("OC_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOr("OC_LOG_FORMAT", cfg.Logging.Format)

	cfg.Tracing.Enabled = envBool("OC_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = envOr("OC_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = envOr("OC_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.ServiceName = envOr("OC_TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.SampleRate = envFloat("OC_TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)

	cfg.Metrics.Enabled = envBool("OC_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Namespace = envOr("OC_METRICS_NAMESPACE", cfg.Metrics.Namespace)

	cfg.HTTPPool.Timeout = envDuration("OC_HTTP_POOL_TIMEOUT", cfg.HTTPPool.Timeout)
	cfg.HTTPPool.RatePerSecond = envFloat("OC_HTTP_POOL_RATE", cfg.HTTPPool.RatePerSecond)
	cfg.HTTPPool.MaxRetries = envInt("OC_HTTP_POOL_MAX_RETRIES", cfg.HTTPPool.MaxRetries)
	cfg.HTTPPool.PoolMaxSize = envInt("OC_HTTP_POOL_MAX_SIZE", cfg.HTTPPool.PoolMaxSize)

	cfg.SFTPPool.ConnectTimeout = envDuration("OC_SFTP_POOL_CONNECT_TIMEOUT", cfg.SFTPPool.ConnectTimeout)
	cfg.SFTPPool.RatePerSecond = envFloat("OC_SFTP_POOL_RATE", cfg.SFTPPool.RatePerSecond)
	cfg.SFTPPool.MaxRetries = envInt("OC_SFTP_POOL_MAX_RETRIES", cfg.SFTPPool.MaxRetries)
	cfg.SFTPPool.PoolMaxSize = envInt("OC_SFTP_POOL_MAX_SIZE", cfg.SFTPPool.PoolMaxSize)
	cfg.SFTPPool.HostKeyVerify = envBool("OC_SFTP_POOL_HOST_KEY_VERIFY", cfg.SFTPPool.HostKeyVerify)
	cfg.SFTPPool.KnownHostsPath = envOr("OC_SFTP_POOL_KNOWN_HOSTS_PATH", cfg.SFTPPool.KnownHostsPath)

	cfg.Daemon.HTTPAddr = envOr("OC_DAEMON_HTTP_ADDR", cfg.Daemon.HTTPAddr)

	cfg.RateLimit.Backend = envOr("OC_RATE_LIMIT_BACKEND", cfg.RateLimit.Backend)
	cfg.RateLimit.Addr = envOr("OC_RATE_LIMIT_REDIS_ADDR", cfg.RateLimit.Addr)
	cfg.RateLimit.Password = envOr("OC_RATE_LIMIT_REDIS_PASSWORD", cfg.RateLimit.Password)
	cfg.RateLimit.DB = envInt("OC_RATE_LIMIT_REDIS_DB", cfg.RateLimit.DB)

	cfg.Concurrency = envInt("OC_CONCURRENCY", cfg.Concurrency)
}

package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/oriys/fetchengine/internal/authmech"
	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/bundlestore/decorator"
	"github.com/oriys/fetchengine/internal/bundlestore/filesink"
	"github.com/oriys/fetchengine/internal/bundlestore/pipelinebus"
	"github.com/oriys/fetchengine/internal/checkpointdb"
	"github.com/oriys/fetchengine/internal/config"
	"github.com/oriys/fetchengine/internal/credentials"
	"github.com/oriys/fetchengine/internal/httppool"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/notify"
	"github.com/oriys/fetchengine/internal/notify/grpcpublisher"
	notifymemory "github.com/oriys/fetchengine/internal/notify/memory"
	"github.com/oriys/fetchengine/internal/notify/sqspublisher"
	"github.com/oriys/fetchengine/internal/recipe"
	"github.com/oriys/fetchengine/internal/retry"
	"github.com/oriys/fetchengine/internal/sftppool"
)

// wired holds every long-lived resource assembled from cfg, so main can
// close them cleanly on shutdown.
type wired struct {
	KVStore      kvs.Store
	Storage      *bundlestore.Storage
	Deps         recipe.Deps
	CheckpointDB *checkpointdb.Store
}

func buildKVStore(ctx context.Context, cfg config.KVStoreConfig) (kvs.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return kvs.NewMemoryStore(), nil
	case "redis":
		return kvs.NewRedisStore(kvs.RedisStoreConfig{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		}), nil
	case "tiered":
		l2 := kvs.NewRedisStore(kvs.RedisStoreConfig{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		})
		return kvs.NewTieredStore(kvs.NewMemoryStore(), l2, cfg.L1TTL), nil
	default:
		return nil, fmt.Errorf("wiring: unknown kv store type %q", cfg.Type)
	}
}

func buildCredentialProvider(ctx context.Context, cfg config.CredentialProviderConfig) (credentials.Provider, error) {
	switch cfg.Type {
	case "", "env":
		return credentials.NewEnvProvider(cfg.EnvPrefix), nil
	case "secretsmanager":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("wiring: load aws config: %w", err)
		}
		client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
		backend := credentials.NewSecretsManagerBackend(client)
		return credentials.NewSecretsManagerProvider(backend, cfg.NameFormat), nil
	default:
		return nil, fmt.Errorf("wiring: unknown credential provider type %q", cfg.Type)
	}
}

func buildNotifier(ctx context.Context, cfg config.NotifyConfig, awsCfg config.AWSConfig) (notify.Publisher, error) {
	switch cfg.Type {
	case "", "memory":
		return notifymemory.New(), nil
	case "sqs":
		sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsCfg.Region))
		if err != nil {
			return nil, fmt.Errorf("wiring: load aws config: %w", err)
		}
		client := sqs.NewFromConfig(sdkCfg)
		return sqspublisher.New(client, cfg.SQSQueueURL)
	case "grpc":
		return grpcpublisher.New(cfg.GRPCAddr, cfg.GRPCMethod)
	default:
		return nil, fmt.Errorf("wiring: unknown notify type %q", cfg.Type)
	}
}

func buildStorageSink(ctx context.Context, cfg config.StorageConfig, publisher notify.Publisher, awsCfg config.AWSConfig) (bundlestore.Sink, error) {
	var sink bundlestore.Sink
	switch cfg.Type {
	case "", "file":
		sink = filesink.New(cfg.FileRoot)
	case "s3":
		sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, fmt.Errorf("wiring: load aws config: %w", err)
		}
		client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			}
		})
		s3Sink, err := pipelinebus.New(client, cfg.S3Bucket, cfg.S3RegistryID, publisher)
		if err != nil {
			return nil, err
		}
		sink = s3Sink
	default:
		return nil, fmt.Errorf("wiring: unknown storage type %q", cfg.Type)
	}

	if cfg.GzipDecorator {
		sink = decorator.NewGzip(sink)
	}
	switch cfg.ArchiveDecorator {
	case "":
	case "tar":
		sink = decorator.NewArchive(sink, decorator.FormatTar)
	case "zip":
		sink = decorator.NewArchive(sink, decorator.FormatZip)
	default:
		return nil, fmt.Errorf("wiring: unknown archive decorator %q", cfg.ArchiveDecorator)
	}
	return sink, nil
}

// buildPools constructs the single default HTTP and SFTP pool this process
// runs recipes against. Recipes reference pools by name ("default") in
// their YAML params; a deployment needing several distinct upstreams runs
// one fetchengine process per pool configuration.
func buildPools(cfg *config.Config, provider credentials.Provider) (*httppool.Pool, *sftppool.Pool) {
	var gateClient *redis.Client
	if cfg.RateLimit.Backend == "redis" {
		gateClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Addr,
			Password: cfg.RateLimit.Password,
			DB:       cfg.RateLimit.DB,
		})
	}

	httpPolicy := retry.DefaultPolicy()
	httpPolicy.MaxRetries = cfg.HTTPPool.MaxRetries
	httpCfg := httppool.Config{
		Timeout:         cfg.HTTPPool.Timeout,
		RatePerSecond:   cfg.HTTPPool.RatePerSecond,
		MaxRetries:      cfg.HTTPPool.MaxRetries,
		PoolMaxSize:     cfg.HTTPPool.PoolMaxSize,
		Auth:            authmech.None{},
		RedisGateClient: gateClient,
		RateLimitKey:    "fetchengine:ratelimit:http:default",
	}
	httpPool := httppool.New(httpCfg, httpPolicy, provider)

	sftpPolicy := retry.DefaultPolicy()
	sftpPolicy.MaxRetries = cfg.SFTPPool.MaxRetries
	sftpCfg := sftppool.Config{
		ConfigName:      "default",
		ConnectTimeout:  cfg.SFTPPool.ConnectTimeout,
		RatePerSecond:   cfg.SFTPPool.RatePerSecond,
		MaxRetries:      cfg.SFTPPool.MaxRetries,
		PoolMaxSize:     cfg.SFTPPool.PoolMaxSize,
		HostKeyVerify:   cfg.SFTPPool.HostKeyVerify,
		KnownHostsPath:  cfg.SFTPPool.KnownHostsPath,
		RedisGateClient: gateClient,
		RateLimitKey:    "fetchengine:ratelimit:sftp:default",
	}
	sftpPool := sftppool.New(sftpCfg, sftpPolicy, provider, nil)

	return httpPool, sftpPool
}

// wire assembles every long-lived dependency from cfg.
func wire(ctx context.Context, cfg *config.Config) (*wired, error) {
	store, err := buildKVStore(ctx, cfg.KVStore)
	if err != nil {
		return nil, err
	}

	provider, err := buildCredentialProvider(ctx, cfg.CredentialProvider)
	if err != nil {
		return nil, err
	}

	publisher, err := buildNotifier(ctx, cfg.Notify, cfg.AWS)
	if err != nil {
		return nil, err
	}

	var cpStore *checkpointdb.Store
	if cfg.CheckpointDB.DSN != "" {
		cpStore, err = checkpointdb.New(ctx, cfg.CheckpointDB.DSN)
		if err != nil {
			return nil, fmt.Errorf("wiring: checkpoint db: %w", err)
		}
		publisher = notify.Fanout(publisher, checkpointdb.NewAuditPublisher(cpStore, "fetchengine"))
	}

	sink, err := buildStorageSink(ctx, cfg.Storage, publisher, cfg.AWS)
	if err != nil {
		return nil, err
	}
	storage := bundlestore.New(sink, publisher)

	httpPool, sftpPool := buildPools(cfg, provider)

	deps := recipe.Deps{
		KVStore:            store,
		HTTPPools:          map[string]*httppool.Pool{"default": httpPool},
		SFTPPools:          map[string]*sftppool.Pool{"default": sftpPool},
		Storage:            storage,
		PaginationAdapters: recipe.DefaultPaginationAdapters(),
	}

	return &wired{KVStore: store, Storage: storage, Deps: deps, CheckpointDB: cpStore}, nil
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigHasNoExternalDependencies(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.KVStore.Type != "memory" {
		t.Fatalf("KVStore.Type = %q, want memory", cfg.KVStore.Type)
	}
	if cfg.Storage.Type != "file" {
		t.Fatalf("Storage.Type = %q, want file", cfg.Storage.Type)
	}
	if cfg.Notify.Type != "memory" {
		t.Fatalf("Notify.Type = %q, want memory", cfg.Notify.Type)
	}
	if cfg.RateLimit.Backend != "local" {
		t.Fatalf("RateLimit.Backend = %q, want local", cfg.RateLimit.Backend)
	}
}

func TestLoadFromEnvOverridesKVStoreAndRateLimit(t *testing.T) {
	for k, v := range map[string]string{
		"OC_KV_STORE_TYPE":         "tiered",
		"OC_KV_STORE_L1_TTL":       "30s",
		"OC_RATE_LIMIT_BACKEND":    "redis",
		"OC_RATE_LIMIT_REDIS_ADDR": "redis.internal:6379",
		"OC_RATE_LIMIT_REDIS_DB":   "2",
	} {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.KVStore.Type != "tiered" {
		t.Fatalf("KVStore.Type = %q, want tiered", cfg.KVStore.Type)
	}
	if cfg.KVStore.L1TTL != 30*time.Second {
		t.Fatalf("KVStore.L1TTL = %v, want 30s", cfg.KVStore.L1TTL)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Fatalf("RateLimit.Backend = %q, want redis", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.Addr != "redis.internal:6379" {
		t.Fatalf("RateLimit.Addr = %q, want redis.internal:6379", cfg.RateLimit.Addr)
	}
	if cfg.RateLimit.DB != 2 {
		t.Fatalf("RateLimit.DB = %d, want 2", cfg.RateLimit.DB)
	}
}

package main

import (
	"context"
	"testing"

	"github.com/oriys/fetchengine/internal/config"
	"github.com/oriys/fetchengine/internal/kvs"
)

func TestBuildKVStoreVariants(t *testing.T) {
	ctx := context.Background()

	store, err := buildKVStore(ctx, config.KVStoreConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*kvs.MemoryStore); !ok {
		t.Fatalf("memory: got %T, want *kvs.MemoryStore", store)
	}

	store, err = buildKVStore(ctx, config.KVStoreConfig{Type: "redis", Addr: "localhost:6379"})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	if _, ok := store.(*kvs.RedisStore); !ok {
		t.Fatalf("redis: got %T, want *kvs.RedisStore", store)
	}

	store, err = buildKVStore(ctx, config.KVStoreConfig{Type: "tiered", Addr: "localhost:6379"})
	if err != nil {
		t.Fatalf("tiered: %v", err)
	}
	if _, ok := store.(*kvs.TieredStore); !ok {
		t.Fatalf("tiered: got %T, want *kvs.TieredStore", store)
	}

	if _, err := buildKVStore(ctx, config.KVStoreConfig{Type: "bogus"}); err == nil {
		t.Fatal("expected an error for an unknown kv store type")
	}
}

func TestBuildCredentialProviderEnv(t *testing.T) {
	provider, err := buildCredentialProvider(context.Background(), config.CredentialProviderConfig{Type: "env", EnvPrefix: "OC_CRED_"})
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if provider == nil {
		t.Fatal("expected a non-nil provider")
	}
}

func TestBuildNotifierMemory(t *testing.T) {
	publisher, err := buildNotifier(context.Background(), config.NotifyConfig{Type: "memory"}, config.AWSConfig{})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if publisher == nil {
		t.Fatal("expected a non-nil publisher")
	}
}

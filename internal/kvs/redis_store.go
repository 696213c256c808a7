package kvs

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/redis/go-redis/v9"
)

// RedisStore backs the store with Redis, suitable for multi-instance
// deployments sharing queue/cursor/dedup state. Values live in a string key
// per entry; a parallel sorted set (score 0, member = key) supports
// ZRANGEBYLEX so RangeGet can walk lexicographic order without a Redis-side
// KEYS scan.
type RedisStore struct {
	client *redis.Client
	prefix string
	setKey string
}

// RedisStoreConfig mirrors the shape of the teacher's Redis cache config.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // default "fetch:kvs:"
}

// NewRedisStore creates a store using its own client.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "fetch:kvs:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(client, prefix)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fetch:kvs:"
	}
	return &RedisStore{client: client, prefix: prefix, setKey: prefix + "index"}
}

func (s *RedisStore) dataKey(key string) string {
	return s.prefix + "v:" + key
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(key), value, ttl)
	pipe.ZAdd(ctx, s.setKey, redis.Z{Score: 0, Member: key})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("kvs: put %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvs: get %q: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.dataKey(key))
	pipe.ZRem(ctx, s.setKey, key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("kvs: delete %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.dataKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("kvs: exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) RangeGet(ctx context.Context, start, end string, limit int) ([]fetchmodel.KVEntry, error) {
	min := "[" + start
	var max string
	if end == "" {
		max = "+"
	} else {
		max = "(" + end
	}

	opt := &redis.ZRangeBy{Min: min, Max: max}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	keys, err := s.client.ZRangeByLex(ctx, s.setKey, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("kvs: range [%q,%q): %w", start, end, err)
	}

	out := make([]fetchmodel.KVEntry, 0, len(keys))
	for _, key := range keys {
		val, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
		if err == redis.Nil {
			// Value expired since the index scan; drop it and move on
			// rather than failing the whole range.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("kvs: range fetch %q: %w", key, err)
		}
		var expiresAt time.Time
		if ttl, err := s.client.TTL(ctx, s.dataKey(key)).Result(); err == nil && ttl > 0 {
			expiresAt = time.Now().Add(ttl)
		}
		out = append(out, fetchmodel.KVEntry{Key: key, Value: val, ExpiresAt: expiresAt})
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

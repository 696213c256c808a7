package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills a per-key bucket by elapsed time and admits the
// caller if a token is available, atomically.
//
// KEYS[1] = bucket key
// ARGV[1] = burst size (max tokens)
// ARGV[2] = refill rate (tokens/sec == ratePerSecond)
// ARGV[3] = now (unix seconds, float)
// Returns: {allowed (0/1), remaining tokens}
var tokenBucketScript = redis.NewScript(`
local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or tonumber(ARGV[1])
local last = tonumber(bucket[2]) or tonumber(ARGV[3])

local elapsed = tonumber(ARGV[3]) - last
tokens = math.min(tonumber(ARGV[1]), tokens + elapsed * tonumber(ARGV[2]))

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'last_refill', ARGV[3])
redis.call('EXPIRE', KEYS[1], math.ceil(tonumber(ARGV[1]) / tonumber(ARGV[2])) + 10)

return {allowed, tokens}
`)

// RedisGate shares a rate budget for one pool config across engine
// instances. It polls the token-bucket script until a token is admitted or
// ctx is cancelled, rather than blocking on a single atomic decision, since
// admission can depend on other instances' concurrent draws.
type RedisGate struct {
	client        *redis.Client
	key           string
	burstSize     float64
	ratePerSecond float64
	pollInterval  time.Duration
}

// NewRedisGate builds a distributed gate over key, sharing burstSize tokens
// refilled at ratePerSecond across every caller using the same key.
func NewRedisGate(client *redis.Client, key string, ratePerSecond float64, burstSize int) *RedisGate {
	if burstSize <= 0 {
		burstSize = 1
	}
	return &RedisGate{
		client:        client,
		key:           key,
		burstSize:     float64(burstSize),
		ratePerSecond: ratePerSecond,
		pollInterval:  time.Duration(float64(time.Second) / ratePerSecond),
	}
}

func (g *RedisGate) Wait(ctx context.Context) error {
	if g.ratePerSecond <= 0 {
		return ctx.Err()
	}
	for {
		allowed, err := g.tryAdmit(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		t := time.NewTimer(g.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (g *RedisGate) tryAdmit(ctx context.Context) (bool, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	res, err := tokenBucketScript.Run(ctx, g.client, []string{g.key}, g.burstSize, g.ratePerSecond, now).Slice()
	if err != nil {
		return false, fmt.Errorf("ratelimit: token bucket check for %q: %w", g.key, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("ratelimit: unexpected token bucket reply length %d", len(res))
	}
	allowed, _ := res[0].(int64)
	return allowed == 1, nil
}

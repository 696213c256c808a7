// Package httppool implements a per-config pool of HTTP clients with a
// rate-limit gate, retry wrapping, and auth-header injection on every
// attempt.
package httppool

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/fetchengine/internal/authmech"
	"github.com/oriys/fetchengine/internal/pkg/crypto"
)

// Config describes one pool's identity. Two Configs that Fingerprint the
// same share a pool.
type Config struct {
	Timeout        time.Duration
	RatePerSecond  float64
	MaxRetries     int
	AuthIdentity   string // e.g. mechanism kind + config name, part of the fingerprint
	DefaultHeaders map[string]string
	PoolMaxSize    int
	Auth           authmech.Mechanism

	// RedisGateClient, when set, shares this pool's rate budget across every
	// fetchengine instance using the same RateLimitKey instead of gating
	// locally. Leave nil for a single-instance local gate.
	RedisGateClient *redis.Client
	RateLimitKey    string
}

// Fingerprint hashes the identity-relevant fields of cfg: timeout, rate,
// retry cap, auth identity, and default headers sorted by key. Auth is
// deliberately excluded from hashing (it's a func-bearing interface); two
// pools distinguished only by auth instance should set different
// AuthIdentity strings.
func (c Config) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timeout=%s;rate=%g;retries=%d;auth=%s;headers=", c.Timeout, c.RatePerSecond, c.MaxRetries, c.AuthIdentity)

	keys := make([]string, 0, len(c.DefaultHeaders))
	for k := range c.DefaultHeaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s,", k, c.DefaultHeaders[k])
	}

	return crypto.HashString(b.String())
}

func (c Config) poolMaxSize() int {
	if c.PoolMaxSize > 0 {
		return c.PoolMaxSize
	}
	return 10
}

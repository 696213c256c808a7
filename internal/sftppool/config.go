// Package sftppool implements a per-config pool of SFTP connections with
// health checks, a baseline-directory invariant, rate limiting, and retry.
package sftppool

import (
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config identifies one pool and how to dial it.
type Config struct {
	ConfigName     string // credential lookup key and pool identity
	Host           string // host:port
	ConnectTimeout time.Duration
	RatePerSecond  float64
	MaxRetries     int
	PoolMaxSize    int
	BaseDir        string // reset to on Release; empty disables the invariant
	HostKeyVerify  bool   // false disables host-key verification (the documented default)
	KnownHostsPath string // required when HostKeyVerify is true

	// RedisGateClient, when set, shares this pool's rate budget across every
	// fetchengine instance using the same RateLimitKey instead of gating
	// locally. Leave nil for a single-instance local gate.
	RedisGateClient *redis.Client
	RateLimitKey    string
}

func (c Config) poolMaxSize() int {
	if c.PoolMaxSize > 0 {
		return c.PoolMaxSize
	}
	return 5
}

// hostKeyCallback returns the callback for dialing. Host-key verification
// is disabled unless Config.HostKeyVerify is true, in which case the remote
// key is checked against KnownHostsPath (OpenSSH known_hosts format).
func (c Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.HostKeyVerify {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(c.KnownHostsPath)
}

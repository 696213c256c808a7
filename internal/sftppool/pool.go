package sftppool

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/oriys/fetchengine/internal/credentials"
	"github.com/oriys/fetchengine/internal/metrics"
	"github.com/oriys/fetchengine/internal/ratelimit"
	"github.com/oriys/fetchengine/internal/retry"
	"github.com/oriys/fetchengine/internal/tracing"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// GatingStrategy can block operations before the rate gate — e.g. a
// maintenance-window policy. WaitIfNeeded should return promptly once the
// window reopens or ctx is cancelled.
type GatingStrategy interface {
	WaitIfNeeded(ctx context.Context) error
}

type pooledConn struct {
	ssh     *ssh.Client
	client  *sftp.Client
	healthy bool
}

// Pool maintains an idle queue of SFTP connections keyed by one Config,
// mirroring httppool.Pool's acquire/release/capacity shape with SFTP's
// extra health-check and baseline-directory reset on Release.
type Pool struct {
	cfg      Config
	gate     ratelimit.Gate
	policy   retry.Policy
	provider credentials.Provider
	gating   GatingStrategy

	mu      sync.Mutex
	idle    []*pooledConn
	total   int
	closed  bool
	waiters []chan *pooledConn
}

// New builds a pool dialing cfg.Host, resolving "username"/"password"
// credentials under cfg.ConfigName; only password authentication is used.
func New(cfg Config, policy retry.Policy, provider credentials.Provider, gating GatingStrategy) *Pool {
	var gate ratelimit.Gate
	if cfg.RedisGateClient != nil {
		gate = ratelimit.NewRedisGate(cfg.RedisGateClient, cfg.RateLimitKey, cfg.RatePerSecond, int(cfg.RatePerSecond))
	} else {
		gate = ratelimit.NewLocalGate(cfg.RatePerSecond)
	}
	return &Pool{
		cfg:      cfg,
		gate:     gate,
		policy:   policy,
		provider: provider,
		gating:   gating,
	}
}

func (p *Pool) dial(ctx context.Context) (*pooledConn, error) {
	user, err := p.provider.GetCredential(ctx, p.cfg.ConfigName, "username")
	if err != nil {
		return nil, err
	}
	pass, err := p.provider.GetCredential(ctx, p.cfg.ConfigName, "password")
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := p.cfg.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("sftppool: load known_hosts %q: %w", p.cfg.KnownHostsPath, err)
	}
	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(pass)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         p.cfg.ConnectTimeout,
	}
	sshClient, err := ssh.Dial("tcp", p.cfg.Host, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("sftppool: dial %s: %w", p.cfg.Host, err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftppool: sftp handshake: %w", err)
	}
	return &pooledConn{ssh: sshClient, client: sftpClient, healthy: true}, nil
}

// healthCheck is a cheap property access per the documented contract.
func (c *pooledConn) healthCheck() bool {
	_, err := c.client.Getwd()
	return err == nil
}

// Acquire pops an idle connection, health-checking it and resetting to
// BaseDir if configured; discards and reacquires fresh on failure. Creates
// a new connection under PoolMaxSize, else blocks.
func (p *Pool) Acquire(ctx context.Context) (*pooledConn, error) {
	acquireStart := time.Now()
	defer func() {
		metrics.Global().RecordPoolAcquire(p.cfg.ConfigName, time.Since(acquireStart).Milliseconds())
	}()

	_, span := tracing.StartPoolAcquire(ctx, p.cfg.ConfigName)
	defer span.End()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			tracing.SetError(span, context.Canceled)
			return nil, context.Canceled
		}
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			if !c.healthCheck() {
				p.discard(c)
				continue
			}
			if p.cfg.BaseDir != "" {
				if err := c.client.Chdir(p.cfg.BaseDir); err != nil {
					p.discard(c)
					continue
				}
			}
			tracing.SetOK(span)
			return c, nil
		}
		if p.total < p.cfg.poolMaxSize() {
			p.total++
			p.mu.Unlock()
			c, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				tracing.SetError(span, err)
				return nil, err
			}
			tracing.SetOK(span)
			return c, nil
		}

		waitCh := make(chan *pooledConn, 1)
		p.waiters = append(p.waiters, waitCh)
		p.mu.Unlock()

		select {
		case c, ok := <-waitCh:
			if !ok {
				tracing.SetError(span, context.Canceled)
				return nil, context.Canceled
			}
			tracing.SetOK(span)
			return c, nil
		case <-ctx.Done():
			p.removeWaiter(waitCh)
			tracing.SetError(span, ctx.Err())
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) removeWaiter(target chan *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
}

func (p *Pool) discard(c *pooledConn) {
	c.client.Close()
	c.ssh.Close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// Release resets the connection to BaseDir and health-checks it; on either
// failure it's discarded, otherwise it's handed to a waiter or pushed idle.
func (p *Pool) Release(c *pooledConn) {
	if p.cfg.BaseDir != "" {
		if err := c.client.Chdir(p.cfg.BaseDir); err != nil {
			p.discard(c)
			return
		}
	}
	if !c.healthCheck() {
		p.discard(c)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(c)
		return
	}
	defer p.mu.Unlock()
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case w <- c:
			return
		default:
			continue
		}
	}
	p.idle = append(p.idle, c)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, c := range p.idle {
		c.client.Close()
		c.ssh.Close()
	}
	p.idle = nil
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
	return nil
}

func (p *Pool) gateOp(ctx context.Context) error {
	if p.gating != nil {
		if err := p.gating.WaitIfNeeded(ctx); err != nil {
			return err
		}
	}
	return p.gate.Wait(ctx)
}

// ListDir lists a remote directory through the rate gate and retry engine.
func (p *Pool) ListDir(ctx context.Context, path string) ([]os.FileInfo, error) {
	if err := p.gateOp(ctx); err != nil {
		return nil, err
	}
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)
	infos, err := retry.DoValue(ctx, p.policy, func(ctx context.Context) ([]os.FileInfo, error) {
		return c.client.ReadDir(path)
	})
	metrics.Global().RecordPoolRequest(p.cfg.ConfigName, err == nil)
	return infos, err
}

// Stat retrieves file info through the rate gate and retry engine.
func (p *Pool) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if err := p.gateOp(ctx); err != nil {
		return nil, err
	}
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)
	info, err := retry.DoValue(ctx, p.policy, func(ctx context.Context) (os.FileInfo, error) {
		return c.client.Stat(path)
	})
	metrics.Global().RecordPoolRequest(p.cfg.ConfigName, err == nil)
	return info, err
}

// Exists reports whether path exists.
func (p *Pool) Exists(ctx context.Context, path string) (bool, error) {
	_, err := p.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether path exists and is a directory.
func (p *Pool) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := p.Stat(ctx, path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// IsFile reports whether path exists and is a regular file.
func (p *Pool) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := p.Stat(ctx, path)
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// scopedReader releases its pool connection on Close, after the caller has
// finished streaming the resource.
type scopedReader struct {
	io.ReadCloser
	release func()
}

func (r *scopedReader) Close() error {
	err := r.ReadCloser.Close()
	r.release()
	return err
}

// Open returns a scoped resource yielding a readable byte stream. The
// connection backing it is returned to the pool when the stream is closed.
func (p *Pool) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := p.gateOp(ctx); err != nil {
		return nil, err
	}
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	f, err := retry.DoValue(ctx, p.policy, func(ctx context.Context) (*sftp.File, error) {
		return c.client.Open(path)
	})
	metrics.Global().RecordPoolRequest(p.cfg.ConfigName, err == nil)
	if err != nil {
		p.Release(c)
		return nil, err
	}
	return &scopedReader{ReadCloser: f, release: func() { p.Release(c) }}, nil
}

package httppool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oriys/fetchengine/internal/credentials"
	"github.com/oriys/fetchengine/internal/metrics"
	"github.com/oriys/fetchengine/internal/ratelimit"
	"github.com/oriys/fetchengine/internal/retry"
	"github.com/oriys/fetchengine/internal/tracing"
)

// pooledClient wraps an *http.Client with the liveness bit Release checks.
type pooledClient struct {
	client  *http.Client
	healthy bool
}

// Pool maintains an idle queue of clients, a total-count counter bounded by
// PoolMaxSize, a rate-limit gate, and a retry engine. Acquire/Release/Request
// follow the documented fast-path-then-create-then-block admission policy.
//
// Blocking admission is a waiter queue rather than a condition variable:
// each blocked Acquire registers a buffered channel under the lock: Release
// hands a client directly to the oldest waiter if one is queued, otherwise
// returns it to idle. This composes cleanly with ctx cancellation, which a
// sync.Cond does not.
type Pool struct {
	cfg      Config
	gate     ratelimit.Gate
	policy   retry.Policy
	provider credentials.Provider

	mu      sync.Mutex
	idle    []*pooledClient
	total   int
	closed  bool
	waiters []chan *pooledClient
}

// New builds a pool for cfg. provider is passed to cfg.Auth on every
// request attempt.
func New(cfg Config, policy retry.Policy, provider credentials.Provider) *Pool {
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
	}
}

func (p *Pool) newClient() *pooledClient {
	return &pooledClient{client: &http.Client{Timeout: p.cfg.Timeout}, healthy: true}
}

// Acquire pops an idle client if one is healthy and available; otherwise
// creates a fresh one while under PoolMaxSize; otherwise blocks until
// Release makes one available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*pooledClient, error) {
	_, span := tracing.StartPoolAcquire(ctx, p.cfg.AuthIdentity)
	defer span.End()

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
		tracing.SetOK(span)
		return c, nil
	}
	if p.total < p.cfg.poolMaxSize() {
		p.total++
		p.mu.Unlock()
		tracing.SetOK(span)
		return p.newClient(), nil
	}

	waitCh := make(chan *pooledClient, 1)
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

func (p *Pool) removeWaiter(target chan *pooledClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
}

// Release returns a client to the idle queue, or discards it (decrementing
// total) if it's been marked unhealthy. A client handed off to a waiter
// counts against total exactly as it did before Release.
func (p *Pool) Release(c *pooledClient) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !c.healthy || p.closed {
		p.total--
		return
	}
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case w <- c:
			return
		default:
			// Waiter already abandoned ship (ctx cancelled); try the next.
			continue
		}
	}
	p.idle = append(p.idle, c)
}

// Close marks the pool closed; callers blocked in Acquire observe
// context.Canceled.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.idle = nil
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
	return nil
}

// Request performs req through the pool: gates on rate, acquires a client,
// applies the auth mechanism to headers on every retry attempt (tokens may
// have refreshed since the prior attempt), and retries per the pool's
// policy.
func (p *Pool) Request(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}

	acquireStart := time.Now()
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	metrics.Global().RecordPoolAcquire(p.cfg.AuthIdentity, time.Since(acquireStart).Milliseconds())
	released := false
	release := func(healthy bool) {
		if released {
			return
		}
		released = true
		c.healthy = healthy
		p.Release(c)
	}

	resp, err := retry.DoValue(ctx, p.policy, func(ctx context.Context) (*http.Response, error) {
		attemptReq := req.Clone(ctx)
		if p.cfg.Auth != nil {
			headers := make(map[string]string, len(attemptReq.Header))
			for k := range attemptReq.Header {
				headers[k] = attemptReq.Header.Get(k)
			}
			headers, err := p.cfg.Auth.AuthenticateRequest(ctx, headers, p.provider)
			if err != nil {
				return nil, err
			}
			for k, v := range headers {
				attemptReq.Header.Set(k, v)
			}
		}
		resp, err := c.client.Do(attemptReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("httppool: server error %d", resp.StatusCode)
		}
		return resp, nil
	})
	metrics.Global().RecordPoolRequest(p.cfg.AuthIdentity, err == nil)
	if err != nil {
		release(false)
		return nil, err
	}
	release(true)
	return resp, nil
}

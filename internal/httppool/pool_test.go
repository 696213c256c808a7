package httppool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oriys/fetchengine/internal/credentials"
	"github.com/oriys/fetchengine/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, ExponentialBase: 2}
}

func TestAcquireCreatesUpToMaxSize(t *testing.T) {
	p := New(Config{PoolMaxSize: 2}, fastPolicy(), nil)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if c1 == c2 {
		t.Fatal("expected distinct clients from two Acquire calls under capacity")
	}
	if p.total != 2 {
		t.Fatalf("total = %d, want 2", p.total)
	}
}

func TestAcquireBlocksAtCapacityAndUnblocksOnRelease(t *testing.T) {
	p := New(Config{PoolMaxSize: 1}, fastPolicy(), nil)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c2, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("blocked Acquire returned error: %v", err)
		}
		if c2 != c1 {
			t.Errorf("expected the released client to be handed to the blocked waiter")
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine register as a waiter
	p.Release(c1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked Acquire never unblocked after Release")
	}
}

func TestAcquireRespectsCancellation(t *testing.T) {
	p := New(Config{PoolMaxSize: 1}, fastPolicy(), nil)
	c1, _ := p.Acquire(context.Background())
	defer p.Release(c1)

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(cctx)
	if err == nil {
		t.Fatal("expected Acquire to be cancelled while blocked at capacity")
	}
}

func TestReleaseUnhealthyDecrementsTotal(t *testing.T) {
	p := New(Config{PoolMaxSize: 1}, fastPolicy(), nil)
	c, _ := p.Acquire(context.Background())
	c.healthy = false
	p.Release(c)

	if p.total != 0 {
		t.Fatalf("total = %d, want 0 after releasing an unhealthy client", p.total)
	}
	// A fresh Acquire should now succeed by creating a new client rather
	// than blocking, since total dropped back under capacity.
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
}

func TestRequestAppliesAuthOnEveryAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get("Authorization") == "" {
			t.Errorf("attempt %d missing Authorization header", attempts)
		}
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := New(Config{PoolMaxSize: 1}, fastPolicy(), nil)
	pool.cfg.Auth = staticAuth{token: "abc"}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := pool.Request(context.Background(), req)
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if attempts < 2 {
		t.Fatalf("attempts = %d, want >= 2 (retry should have happened)", attempts)
	}
}

func TestFingerprintStableAndDistinguishing(t *testing.T) {
	a := Config{Timeout: time.Second, RatePerSecond: 5, MaxRetries: 3, DefaultHeaders: map[string]string{"X-A": "1"}}
	b := Config{Timeout: time.Second, RatePerSecond: 5, MaxRetries: 3, DefaultHeaders: map[string]string{"X-A": "1"}}
	c := Config{Timeout: 2 * time.Second, RatePerSecond: 5, MaxRetries: 3, DefaultHeaders: map[string]string{"X-A": "1"}}

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical configs should fingerprint identically")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("configs differing in Timeout should fingerprint differently")
	}
}

func TestConcurrentAcquireReleaseNoLeak(t *testing.T) {
	p := New(Config{PoolMaxSize: 3}, fastPolicy(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire returned error: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			p.Release(c)
		}()
	}
	wg.Wait()
	if p.total > 3 {
		t.Fatalf("total = %d, want <= 3", p.total)
	}
}

type staticAuth struct{ token string }

func (s staticAuth) AuthenticateRequest(ctx context.Context, headers map[string]string, _ credentials.Provider) (map[string]string, error) {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out["Authorization"] = "Bearer " + s.token
	return out, nil
}

// Package retry implements the exponential-backoff-with-jitter policy shared
// by every pool and locator in the engine. It is policy-only: it never
// inspects or classifies the error a thunk returns, it just re-runs the
// thunk until the thunk succeeds or the budget is exhausted.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures a retry schedule. Attempt n (0-indexed retry, i.e. the
// delay before the (n+1)th try) sleeps for
// min(BaseDelay * ExponentialBase^n, MaxDelay), scaled by a uniform jitter
// factor in [JitterLo, JitterHi) when Jitter is set.
type Policy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	JitterLo        float64
	JitterHi        float64
}

// DefaultPolicy matches the engine's documented defaults: 5 retries, 200ms
// base delay, 30s cap, base 2 exponential growth, jitter in [0.5, 1.5).
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      5,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
		JitterLo:        0.5,
		JitterHi:        1.5,
	}
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter {
		lo, hi := p.JitterLo, p.JitterHi
		if hi <= lo {
			hi = lo + 1e-9
		}
		d *= lo + rand.Float64()*(hi-lo)
	}
	return time.Duration(d)
}

// Do runs fn, retrying on error per p until it succeeds, the context is
// cancelled, or the retry budget is exhausted (in which case the last error
// is returned). Do never special-cases goroutines: callers running it
// concurrently get identical semantics to running it inline.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do's generic counterpart for thunks that produce a result.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == p.MaxRetries {
			break
		}
		d := p.delay(attempt)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}

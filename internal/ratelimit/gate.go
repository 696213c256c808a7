// Package ratelimit gates outbound pool requests to a configured rate. The
// primary implementation, LocalGate, wraps golang.org/x/time/rate's token
// bucket limiter, the single-process gate the spec's connection pools use
// directly. RedisGate is an optional distributed variant for multi-instance
// deployments sharing a rate budget against the same upstream.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Gate serializes callers to no more than one admission per 1/ratePerSecond
// interval.
type Gate interface {
	// Wait blocks until the caller may proceed, or ctx is cancelled.
	Wait(ctx context.Context) error
}

// LocalGate is a single-process token bucket: burst 1, refilled at
// ratePerSecond, so admission order matches call order under contention
// (rate.Limiter queues waiters FIFO internally).
type LocalGate struct {
	limiter *rate.Limiter
	enabled bool
}

// NewLocalGate builds a gate admitting at most ratePerSecond callers/sec.
// A non-positive rate disables gating (Wait returns immediately).
func NewLocalGate(ratePerSecond float64) *LocalGate {
	if ratePerSecond <= 0 {
		return &LocalGate{enabled: false}
	}
	return &LocalGate{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1), enabled: true}
}

func (g *LocalGate) Wait(ctx context.Context) error {
	if !g.enabled {
		return ctx.Err()
	}
	return g.limiter.Wait(ctx)
}

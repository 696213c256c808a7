package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalGateSerializesToRate(t *testing.T) {
	g := NewLocalGate(10) // 100ms interval
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
	}
	elapsed := time.Since(start)
	// 3 admissions at 10/sec should take at least 2 intervals (~200ms).
	if elapsed < 180*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= ~200ms for 3 admissions at 10/sec", elapsed)
	}
}

func TestLocalGateDisabledWhenRateNonPositive(t *testing.T) {
	g := NewLocalGate(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatalf("disabled gate should not have slept")
	}
}

func TestLocalGateRespectsCancellation(t *testing.T) {
	g := NewLocalGate(1) // 1/sec, 1s interval
	ctx := context.Background()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("first Wait() returned error: %v", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Wait(cctx); err == nil {
		t.Fatal("expected Wait() to be cancelled before the interval elapsed")
	}
}

func TestLocalGateAdmitsAllConcurrentWaiters(t *testing.T) {
	g := NewLocalGate(1000) // fast enough not to bottleneck the test
	ctx := context.Background()
	const n = 20
	order := make(chan int, n)

	for i := 0; i < n; i++ {
		i := i
		go func() {
			_ = g.Wait(ctx)
			order <- i
		}()
	}
	seen := 0
	for i := 0; i < n; i++ {
		<-order
		seen++
	}
	if seen != n {
		t.Fatalf("saw %d admissions, want %d", seen, n)
	}
}

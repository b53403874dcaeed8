package network

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAllowBurstThenRefill(t *testing.T) {
	b := NewTokenBucket(3, 10)
	start := b.last
	for i := 0; i < 3; i++ {
		if !b.Allow(start) {
			t.Fatalf("token %d should be available", i)
		}
	}
	if b.Allow(start) {
		t.Fatalf("bucket should be empty")
	}
	// 10 tokens/s: 100ms buys one token
	if !b.Allow(start.Add(100 * time.Millisecond)) {
		t.Fatalf("expected refill after 100ms")
	}
	// refill never exceeds capacity
	b.Allow(start.Add(time.Hour))
	if got := b.tokens; got > 2 {
		t.Fatalf("tokens after long idle = %v, want <= capacity-1", got)
	}
}

func TestWaitBlocksUntilToken(t *testing.T) {
	b := NewTokenBucket(1, 20)
	ctx := context.Background()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	begin := time.Now()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if el := time.Since(begin); el < 30*time.Millisecond {
		t.Fatalf("second token came too early: %v", el)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	b := NewTokenBucket(1, 0.1)
	_ = b.Wait(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestWaitSharedAcrossGoroutines(t *testing.T) {
	b := NewTokenBucket(5, 50)
	var wg sync.WaitGroup
	begin := time.Now()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Wait(context.Background())
		}()
	}
	wg.Wait()
	// 5 from the burst, 5 more at 50/s need ~100ms
	if el := time.Since(begin); el < 60*time.Millisecond {
		t.Fatalf("10 waits on a 5-token bucket finished in %v", el)
	}
}

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock steps time manually so window boundaries are exact.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreFixedWindowScenario(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithNow(clock.Now))
	defer store.Close()

	ctx := context.Background()
	limit, window := 3, 300*time.Second

	// Submissions at t=0, 10, 20, 30: allowed, allowed, allowed, denied.
	expected := []bool{true, true, true, false}
	for i, want := range expected {
		res, err := store.Take(ctx, "A", limit, window)
		if err != nil {
			t.Fatalf("take %d: unexpected error: %v", i, err)
		}
		if res.Allowed != want {
			t.Fatalf("take %d: allowed = %v, want %v", i, res.Allowed, want)
		}
		clock.Advance(10 * time.Second)
	}

	// t=40 by now; jump to t=310, past the window end.
	clock.Advance(270 * time.Second)
	res, err := store.Take(ctx, "A", limit, window)
	if err != nil {
		t.Fatalf("take after window: unexpected error: %v", err)
	}
	if !res.Allowed {
		t.Fatal("submission after window elapsed should be allowed")
	}
	if res.Count != 1 {
		t.Fatalf("new window should reset count to 1, got %d", res.Count)
	}
}

func TestMemoryStoreWindowBoundary(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithNow(clock.Now))
	defer store.Close()

	ctx := context.Background()
	limit, window := 1, 60*time.Second

	res, _ := store.Take(ctx, "B", limit, window)
	if !res.Allowed {
		t.Fatal("first submission should be allowed")
	}

	clock.Advance(59 * time.Second)
	res, _ = store.Take(ctx, "B", limit, window)
	if res.Allowed {
		t.Fatal("submission at t=59s inside a 60s window should be denied")
	}
	if res.ResetIn != time.Second {
		t.Fatalf("reset in = %s, want 1s", res.ResetIn)
	}

	clock.Advance(2 * time.Second)
	res, _ = store.Take(ctx, "B", limit, window)
	if !res.Allowed {
		t.Fatal("submission at t=61s should start a new window")
	}
}

func TestMemoryStoreIdentitiesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithNow(clock.Now))
	defer store.Close()

	ctx := context.Background()
	limit, window := 2, time.Minute

	for i := 0; i < limit; i++ {
		if res, _ := store.Take(ctx, "first", limit, window); !res.Allowed {
			t.Fatalf("first identity take %d should be allowed", i)
		}
	}
	if res, _ := store.Take(ctx, "first", limit, window); res.Allowed {
		t.Fatal("first identity should be exhausted")
	}

	res, _ := store.Take(ctx, "second", limit, window)
	if !res.Allowed {
		t.Fatal("second identity must not be affected by first")
	}
	if res.Count != 1 {
		t.Fatalf("second identity count = %d, want 1", res.Count)
	}
}

func TestMemoryStoreDeniedAttemptsDoNotExtendCount(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithNow(clock.Now))
	defer store.Close()

	ctx := context.Background()
	limit, window := 2, time.Minute

	store.Take(ctx, "C", limit, window)
	store.Take(ctx, "C", limit, window)
	for i := 0; i < 20; i++ {
		res, _ := store.Take(ctx, "C", limit, window)
		if res.Allowed {
			t.Fatalf("attempt %d past limit should be denied", i)
		}
		if res.Count > limit {
			t.Fatalf("count %d exceeds limit %d", res.Count, limit)
		}
	}
}

func TestMemoryStoreConcurrentTakesNeverOverAdmit(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	limit, window := 5, time.Minute

	const attempts = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Take(ctx, "same-identity", limit, window)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("allowed %d submissions, want exactly %d", allowed, limit)
	}
}

func TestMemoryStoreSweepDropsExpiredRecords(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithNow(clock.Now))
	defer store.Close()

	ctx := context.Background()
	store.Take(ctx, "expiring", 3, time.Minute)
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}

	clock.Advance(2 * time.Minute)
	store.sweep()
	if store.Len() != 0 {
		t.Fatalf("expired record should be swept, len = %d", store.Len())
	}
}

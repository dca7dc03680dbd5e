package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type failingStore struct {
	err error
}

func (s failingStore) Take(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, s.err
}

func TestNewLimiterRejectsInvalidConfig(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	cases := []struct {
		name   string
		store  Store
		limit  int
		window time.Duration
	}{
		{"nil store", nil, 3, time.Minute},
		{"zero limit", store, 0, time.Minute},
		{"negative limit", store, -1, time.Minute},
		{"zero window", store, 3, 0},
		{"negative window", store, 3, -time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewLimiter(tc.store, tc.limit, tc.window); err == nil {
				t.Fatal("expected constructor error")
			}
		})
	}
}

func TestLimiterDeniesPastLimitWithRetryAfter(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithNow(clock.Now))
	defer store.Close()

	limiter, err := NewLimiter(store, 3, 300*time.Second, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d := limiter.CheckAndRecord(ctx, "10.0.0.1")
		if !d.Allowed {
			t.Fatalf("submission %d should be allowed", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Fatalf("submission %d: remaining = %d, want %d", i+1, d.Remaining, 3-(i+1))
		}
		clock.Advance(10 * time.Second)
	}

	d := limiter.CheckAndRecord(ctx, "10.0.0.1")
	if d.Allowed {
		t.Fatal("fourth submission inside the window should be denied")
	}
	// Window started at t=0, now t=30.
	if d.RetryAfter != 270*time.Second {
		t.Fatalf("retry after = %s, want 270s", d.RetryAfter)
	}
}

func TestLimiterFailOpenByDefault(t *testing.T) {
	limiter, err := NewLimiter(failingStore{err: errors.New("redis down")}, 3, time.Minute,
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	d := limiter.CheckAndRecord(context.Background(), "10.0.0.1")
	if !d.Allowed {
		t.Fatal("store failure should fail open by default")
	}
}

func TestLimiterFailClosedWhenConfigured(t *testing.T) {
	limiter, err := NewLimiter(failingStore{err: errors.New("redis down")}, 3, time.Minute,
		WithFailClosed(true), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	d := limiter.CheckAndRecord(context.Background(), "10.0.0.1")
	if d.Allowed {
		t.Fatal("store failure should deny when fail mode is closed")
	}
	if d.RetryAfter != time.Minute {
		t.Fatalf("retry after = %s, want the full window", d.RetryAfter)
	}
}

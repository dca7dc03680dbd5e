package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"contact-service/internal/util"
)

// Store applies one submission attempt against the fixed window kept for an
// identity. Implementations must make the read-increment-write sequence
// atomic per identity: the in-memory store locks the identity's shard, the
// redis store runs a Lua script.
type Store interface {
	Take(ctx context.Context, identity string, limit int, window time.Duration) (Result, error)
}

// Result is the raw store outcome for a single attempt.
type Result struct {
	Allowed bool
	// Count is the number of recorded submissions in the current window,
	// including this one when it was allowed. Denied attempts are not
	// recorded.
	Count int
	// ResetIn is the time remaining until the current window elapses.
	ResetIn time.Duration
}

// Decision is what the request handler acts on.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is set on deny: how long the submitter has to wait until
	// the window resets.
	RetryAfter time.Duration
}

// Limiter gates contact-form submissions per identity. It holds the policy
// (limit, window, failure mode) and delegates the counting to an injected
// Store, so the same policy runs against memory or a shared redis.
type Limiter struct {
	store      Store
	limit      int
	window     time.Duration
	failClosed bool
	logger     *zap.Logger
}

type Option func(*Limiter)

// WithFailClosed denies submissions when the store is unreachable. The
// default is fail-open: a broken cache should not lock legitimate users out.
func WithFailClosed(closed bool) Option {
	return func(l *Limiter) { l.failClosed = closed }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter validates the policy up front; a non-positive limit or window
// is a configuration error surfaced at startup.
func NewLimiter(store Store, limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}

	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: util.Get(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CheckAndRecord decides whether a submission from identity is allowed right
// now and records it when it is. A store failure follows the configured
// failure mode and is logged, never returned: a denied submission is a
// normal outcome, not an error.
func (l *Limiter) CheckAndRecord(ctx context.Context, identity string) Decision {
	res, err := l.store.Take(ctx, identity, l.limit, l.window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable",
			zap.String("identity", identity),
			zap.Bool("fail_closed", l.failClosed),
			zap.Error(err))
		if l.failClosed {
			return Decision{Allowed: false, RetryAfter: l.window}
		}
		return Decision{Allowed: true, Remaining: l.limit}
	}

	remaining := l.limit - res.Count
	if remaining < 0 {
		remaining = 0
	}
	if !res.Allowed {
		return Decision{Allowed: false, RetryAfter: res.ResetIn}
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// Limit returns the configured maximum submissions per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window duration.
func (l *Limiter) Window() time.Duration { return l.window }

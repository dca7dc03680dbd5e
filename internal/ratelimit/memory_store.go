package ratelimit

import (
	"context"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

const (
	defaultShards     = 32
	defaultSweepEvery = time.Minute
)

// record is the per-identity window state. Denied attempts never move the
// counter; count therefore stays within [1, limit] for an unexpired window.
type record struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]record
}

// MemoryStore is a sharded in-process Store. Identities are spread across
// shards by murmur3 hash so concurrent submissions from different clients
// rarely contend on the same lock. A background sweeper drops records whose
// window has elapsed.
type MemoryStore struct {
	shards     []*memoryShard
	hasherPool sync.Pool

	nowFn      func() time.Time
	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type MemoryOption func(*MemoryStore)

func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = make([]*memoryShard, n)
		}
	}
}

func WithSweepEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepEvery = d
		}
	}
}

// WithNow overrides the clock, used by tests to step through windows.
func WithNow(nowFn func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.nowFn = nowFn }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards:     make([]*memoryShard, defaultShards),
		nowFn:      time.Now,
		sweepEvery: defaultSweepEvery,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]record)}
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	s.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	go s.sweepLoop()
	return s
}

// Take implements Store. The whole read-increment-write sequence runs under
// the shard lock.
func (s *MemoryStore) Take(_ context.Context, identity string, limit int, window time.Duration) (Result, error) {
	now := s.nowFn()
	shard := s.shardFor(identity)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.entries[identity]
	if !ok || now.Sub(rec.windowStart) >= rec.window {
		rec = record{count: 1, windowStart: now, window: window}
		shard.entries[identity] = rec
		return Result{Allowed: true, Count: 1, ResetIn: window}, nil
	}

	resetIn := rec.windowStart.Add(rec.window).Sub(now)
	if rec.count >= limit {
		return Result{Allowed: false, Count: rec.count, ResetIn: resetIn}, nil
	}

	rec.count++
	shard.entries[identity] = rec
	return Result{Allowed: true, Count: rec.count, ResetIn: resetIn}, nil
}

// Len reports the number of tracked identities, for health/stats reporting.
func (s *MemoryStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) shardFor(identity string) *memoryShard {
	hasher := s.hasherPool.Get().(hash.Hash64)
	defer s.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(identity))
	return s.shards[hasher.Sum64()%uint64(len(s.shards))]
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.nowFn()
	for _, shard := range s.shards {
		shard.mu.Lock()
		for identity, rec := range shard.entries {
			if now.Sub(rec.windowStart) >= rec.window {
				delete(shard.entries, identity)
			}
		}
		shard.mu.Unlock()
	}
}

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxBuckets bounds the in-process bucket map. Least recently used
// keys are evicted first; an evicted key simply starts a fresh window
// on its next request.
const maxBuckets = 100000

type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int64
}

// MemoryBackend is an in-process fixed-window counter store.
type MemoryBackend struct {
	buckets *lru.Cache[string, *bucket]

	// nowFn is swappable in tests
	nowFn func() time.Time
}

// NewMemoryBackend creates an in-process limiter backend.
func NewMemoryBackend() (*MemoryBackend, error) {
	cache, err := lru.New[string, *bucket](maxBuckets)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket cache: %w", err)
	}
	return &MemoryBackend{buckets: cache, nowFn: time.Now}, nil
}

// Take consumes one slot for the key in the current window.
func (m *MemoryBackend) Take(_ context.Context, key string, limit int64, window time.Duration) (Result, error) {
	fresh := &bucket{}
	b, ok, _ := m.buckets.PeekOrAdd(key, fresh)
	if !ok {
		b = fresh
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := m.nowFn()
	windowStart := now.Truncate(window)
	if !b.windowStart.Equal(windowStart) {
		b.windowStart = windowStart
		b.count = 0
	}

	resetAt := windowStart.Add(window)
	if b.count >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	b.count++
	return Result{Allowed: true, Remaining: limit - b.count, ResetAt: resetAt}, nil
}

// Len reports the number of live buckets, for the active-buckets gauge.
func (m *MemoryBackend) Len() int {
	return m.buckets.Len()
}

// Sweep drops buckets whose window ended before now. The LRU cap
// already bounds memory; sweeping just keeps the gauge honest between
// evictions.
func (m *MemoryBackend) Sweep(window time.Duration) int {
	now := m.nowFn()
	removed := 0
	for _, key := range m.buckets.Keys() {
		b, ok := m.buckets.Peek(key)
		if !ok {
			continue
		}
		b.mu.Lock()
		stale := now.Sub(b.windowStart) > window
		b.mu.Unlock()
		if stale {
			m.buckets.Remove(key)
			removed++
		}
	}
	return removed
}

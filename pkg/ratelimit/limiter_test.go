package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vaultisle/dataroom/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func frozenClock(t time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := t
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func TestMemoryBackendFixedWindow(t *testing.T) {
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	nowFn, advance := frozenClock(time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))
	backend.nowFn = nowFn
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		res, err := backend.Take(ctx, "user:7", 5, time.Minute)
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied under the limit", i+1)
		}
		if res.Remaining != 4-i {
			t.Errorf("request %d: remaining = %d, want %d", i+1, res.Remaining, 4-i)
		}
	}

	res, err := backend.Take(ctx, "user:7", 5, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("6th request in the window allowed")
	}
	want := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	if !res.ResetAt.Equal(want) {
		t.Errorf("reset at %v, want window boundary %v", res.ResetAt, want)
	}

	// The window is clock-aligned: 30 seconds later a new minute starts
	advance(30 * time.Second)
	res, err = backend.Take(ctx, "user:7", 5, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if !res.Allowed || res.Remaining != 4 {
		t.Errorf("new window: allowed=%v remaining=%d, want fresh budget", res.Allowed, res.Remaining)
	}
}

func TestMemoryBackendKeysAreIndependent(t *testing.T) {
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := backend.Take(ctx, "user:1", 3, time.Minute); err != nil {
			t.Fatalf("Take failed: %v", err)
		}
	}
	res, err := backend.Take(ctx, "user:2", 3, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if !res.Allowed || res.Remaining != 2 {
		t.Errorf("second key shares the first key's budget: %+v", res)
	}
}

func TestMemoryBackendSweep(t *testing.T) {
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	nowFn, advance := frozenClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backend.nowFn = nowFn
	ctx := context.Background()

	if _, err := backend.Take(ctx, "stale", 5, time.Minute); err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	advance(3 * time.Minute)
	if _, err := backend.Take(ctx, "live", 5, time.Minute); err != nil {
		t.Fatalf("Take failed: %v", err)
	}

	if removed := backend.Sweep(time.Minute); removed != 1 {
		t.Errorf("swept %d buckets, want 1", removed)
	}
	if backend.Len() != 1 {
		t.Errorf("%d buckets left, want 1", backend.Len())
	}
}

func TestRedisBackendFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := NewRedisBackend(client, "test")
	// Counter keys expire at the window boundary, so the frozen clock
	// must stay ahead of the real one or ExpireAt would fire at once
	nowFn, advance := frozenClock(time.Now().Add(time.Hour).Truncate(time.Minute).Add(30 * time.Second))
	backend.nowFn = nowFn
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		res, err := backend.Take(ctx, "ip:10.0.0.9", 3, time.Minute)
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		if !res.Allowed || res.Remaining != 2-i {
			t.Errorf("request %d: allowed=%v remaining=%d", i+1, res.Allowed, res.Remaining)
		}
	}

	res, err := backend.Take(ctx, "ip:10.0.0.9", 3, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("4th request in the window allowed")
	}

	// Crossing the boundary lands on a fresh counter key
	advance(time.Minute)
	res, err = backend.Take(ctx, "ip:10.0.0.9", 3, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if !res.Allowed || res.Remaining != 2 {
		t.Errorf("new window: allowed=%v remaining=%d, want fresh budget", res.Allowed, res.Remaining)
	}
}

func TestRedisBackendReset(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := NewRedisBackend(client, "test")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := backend.Take(ctx, "user:1", 2, time.Minute); err != nil {
			t.Fatalf("Take failed: %v", err)
		}
	}
	if err := backend.Reset(ctx, "user:1", time.Minute); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	res, err := backend.Take(ctx, "user:1", 2, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if !res.Allowed || res.Remaining != 1 {
		t.Errorf("after reset: allowed=%v remaining=%d, want fresh budget", res.Allowed, res.Remaining)
	}
}

type failingBackend struct{}

func (failingBackend) Take(context.Context, string, int64, time.Duration) (Result, error) {
	return Result{}, errors.New("backend down")
}

func TestLimiterFailModes(t *testing.T) {
	for _, tc := range []struct {
		mode FailMode
		want bool
	}{
		{FailOpen, true},
		{FailClosed, false},
	} {
		limiter, err := NewLimiter(Config{
			Identity: "api", Limit: 10, Window: time.Minute, FailMode: tc.mode,
		}, failingBackend{}, testLogger(), nil)
		if err != nil {
			t.Fatalf("NewLimiter failed: %v", err)
		}
		res := limiter.Check(context.Background(), "user:1")
		if res.Allowed != tc.want {
			t.Errorf("fail mode %v: allowed = %v, want %v", tc.mode, res.Allowed, tc.want)
		}
	}
}

func TestLimiterRecordsBackendFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	limiter, err := NewLimiter(Config{
		Identity: "auth", Limit: 10, Window: time.Minute, FailMode: FailClosed,
	}, failingBackend{}, testLogger(), metrics)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	limiter.Check(context.Background(), "user:1")
	limiter.Check(context.Background(), "user:1")

	got := testutil.ToFloat64(metrics.RateLimitErrorsTotal.WithLabelValues("auth"))
	if got != 2 {
		t.Errorf("error counter for the auth tier = %v, want 2", got)
	}

	// The bucket gauge tracks the backend, not a tier
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	if _, err := backend.Take(context.Background(), "user:1", 10, time.Minute); err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	metrics.RateLimitBucketsActive.Set(float64(backend.Len()))
	if got := testutil.ToFloat64(metrics.RateLimitBucketsActive); got != 1 {
		t.Errorf("bucket gauge = %v, want 1", got)
	}
}

func TestLimiterSetLimits(t *testing.T) {
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	limiter, err := NewLimiter(Config{
		Identity: "api", Limit: 1, Window: time.Minute, FailMode: FailOpen,
	}, backend, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	ctx := context.Background()

	limiter.Check(ctx, "user:1")
	if res := limiter.Check(ctx, "user:1"); res.Allowed {
		t.Fatal("2nd request allowed at limit 1")
	}

	if err := limiter.SetLimits(100, time.Minute); err != nil {
		t.Fatalf("SetLimits failed: %v", err)
	}
	if res := limiter.Check(ctx, "user:1"); !res.Allowed {
		t.Error("request denied after raising the limit")
	}

	// Invalid settings are rejected and the old config stays in force
	if err := limiter.SetLimits(0, time.Minute); err == nil {
		t.Error("SetLimits accepted a zero limit")
	}
	if got := limiter.Config().Limit; got != 100 {
		t.Errorf("limit = %d after rejected update, want 100", got)
	}
}

func TestLimiterTiersShareNothing(t *testing.T) {
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	api, err := NewLimiter(Config{Identity: "api", Limit: 1, Window: time.Minute, FailMode: FailOpen}, backend, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	auth, err := NewLimiter(Config{Identity: "auth", Limit: 1, Window: time.Minute, FailMode: FailClosed}, backend, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	ctx := context.Background()

	// The same key on a shared backend still counts per tier
	api.Check(ctx, "user:1")
	if res := auth.Check(ctx, "user:1"); !res.Allowed {
		t.Error("auth tier consumed by api tier traffic")
	}
}

func TestMiddleware(t *testing.T) {
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	limiter, err := NewLimiter(Config{
		Identity: "api", Limit: 2, Window: time.Minute, FailMode: FailOpen,
	}, backend, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	handler := Middleware(limiter, KeyByClientIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
		req.RemoteAddr = "10.0.0.9:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		rec := get()
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d, want 204", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("missing X-RateLimit-Limit header")
		}
	}

	rec := get()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d past the limit, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}

	// A different client address has its own budget
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
	req.RemoteAddr = "10.0.0.10:54321"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status %d for a fresh client, want 204", rec.Code)
	}
}

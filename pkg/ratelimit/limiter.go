package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaultisle/dataroom/pkg/observability"
)

// Limiter applies one tier's config on top of a backend, including the
// tier's failure behavior.
type Limiter struct {
	mu      sync.RWMutex
	cfg     Config
	backend Backend
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLimiter creates a tier limiter.
func NewLimiter(cfg Config, backend Backend, logger *observability.Logger, metrics *observability.Metrics) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{cfg: cfg, backend: backend, logger: logger, metrics: metrics}, nil
}

// Config returns the current tier settings.
func (l *Limiter) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// SetLimits swaps the limit and window at runtime. Counters already in
// flight keep their old window; new requests use the new settings.
func (l *Limiter) SetLimits(limit int64, window time.Duration) error {
	next := l.Config()
	next.Limit = limit
	next.Window = window
	if err := next.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = next
	l.mu.Unlock()
	return nil
}

// Check consumes one slot for the key. Backend failure is resolved by
// the tier's fail mode and never surfaces as an error to the caller.
func (l *Limiter) Check(ctx context.Context, key string) Result {
	cfg := l.Config()
	res, err := l.backend.Take(ctx, fmt.Sprintf("%s:%s", cfg.Identity, key), cfg.Limit, cfg.Window)
	if err != nil {
		if l.metrics != nil {
			l.metrics.RateLimitErrorsTotal.WithLabelValues(cfg.Identity).Inc()
		}
		l.logger.WithError(err).Warnf("rate limit backend failed for tier %s", cfg.Identity)
		res = Result{Allowed: cfg.FailMode == FailOpen}
	}

	if l.metrics != nil {
		verdict := "allowed"
		if !res.Allowed {
			verdict = "limited"
		}
		l.metrics.RateLimitVerdictsTotal.WithLabelValues(cfg.Identity, verdict).Inc()
	}
	return res
}

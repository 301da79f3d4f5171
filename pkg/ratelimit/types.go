package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// FailMode decides the verdict when the limiter backend fails.
type FailMode string

const (
	// FailOpen admits the request on backend failure.
	FailOpen FailMode = "open"
	// FailClosed refuses the request on backend failure.
	FailClosed FailMode = "closed"
)

// Config defines one rate limit tier.
type Config struct {
	// Identity names the tier in metrics and logs, e.g. "api" or "auth".
	Identity string
	// Limit is the maximum number of requests per window.
	Limit int64
	// Window is the fixed window length. Windows are clock-aligned.
	Window time.Duration
	// FailMode applies when the backend errors.
	FailMode FailMode
}

// Validate checks the tier settings.
func (c Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("rate limit identity is required")
	}
	if c.Limit < 1 {
		return fmt.Errorf("rate limit for %q must be at least 1", c.Identity)
	}
	if c.Window < time.Second {
		return fmt.Errorf("rate limit window for %q must be at least 1s", c.Identity)
	}
	if c.FailMode != FailOpen && c.FailMode != FailClosed {
		return fmt.Errorf("unknown fail mode %q for %q", c.FailMode, c.Identity)
	}
	return nil
}

// Result is one limiter verdict.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Remaining is the quota left in the current window after this
	// request, never negative.
	Remaining int64
	// ResetAt is when the current window ends and the counter resets.
	ResetAt time.Time
}

// Backend counts requests per key within clock-aligned windows.
type Backend interface {
	// Take consumes one slot for the key in the current window.
	Take(ctx context.Context, key string, limit int64, window time.Duration) (Result, error)
}

// Package ratelimit implements fixed-window request rate limiting.
//
// Each identity (an authenticated user or a client IP) gets an
// independent counter per window. The window is aligned to the clock,
// so a limit of 100 per minute admits at most 100 requests between
// :00 and :59 of any minute and the counter resets at the boundary.
//
// Two backends exist: an in-process limiter bounded by an LRU bucket
// map, and a Redis limiter that shares counters across instances.
// Backend failure behavior is configured per limiter: the general API
// tier fails open to keep the product available, while the tiers
// guarding credential checks fail closed.
package ratelimit

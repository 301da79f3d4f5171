// Package async provides safe concurrent execution for fire-and-forget
// side effects.
//
// The share link gate and audit surfaces spawn background work that must
// never block or fail the request that triggered it: notification
// dispatch, milestone triggers. SafeGo wraps that work with panic
// recovery, a per-task timeout, and error logging so a misbehaving sink
// cannot take a request handler down with it.
package async

package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/vaultisle/dataroom/pkg/authz"
	"github.com/vaultisle/dataroom/pkg/httputil"
)

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(*http.Request) string

// KeyByClientIP keys on the client address. Used for anonymous
// traffic such as share link visits.
func KeyByClientIP(r *http.Request) string {
	return "ip:" + httputil.ClientIP(r)
}

// KeyByActor keys on the authenticated user, falling back to the
// client address for anonymous requests.
func KeyByActor(r *http.Request) string {
	actor := authz.ActorFromContext(r.Context())
	if !actor.Anonymous {
		return fmt.Sprintf("user:%d", actor.UserID)
	}
	return KeyByClientIP(r)
}

// Middleware enforces the limiter on every request, answering 429 with
// standard X-RateLimit headers when the quota is spent.
func Middleware(limiter *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(r.Context(), keyFn(r))

			cfg := limiter.Config()
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(cfg.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}

			if !res.Allowed {
				if !res.ResetAt.IsZero() {
					w.Header().Set("Retry-After", strconv.FormatInt(int64(cfg.Window.Seconds()), 10))
				}
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

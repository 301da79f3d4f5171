package authz

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/vaultisle/dataroom/pkg/httputil"
)

type contextKey string

// ActorContextKey is the context key the identity layer stores the actor
// under
const ActorContextKey contextKey = "authz.actor"

// WithActor stores the actor in the context
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}

// ActorFromContext retrieves the actor; anonymous when absent
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(ActorContextKey).(Actor); ok {
		return actor
	}
	return Actor{Anonymous: true}
}

// IdentityMiddleware trusts the upstream gateway's identity headers and
// places the resulting actor in the request context. Authentication
// itself happens upstream; requests without the header are anonymous.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Actor{Anonymous: true}

		if raw := r.Header.Get("X-Actor-Id"); raw != "" {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err == nil {
				actor = Actor{UserID: userID}
				if rawGroups := r.Header.Get("X-Actor-Groups"); rawGroups != "" {
					for _, part := range strings.Split(rawGroups, ",") {
						if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
							actor.GroupIDs = append(actor.GroupIDs, id)
						}
					}
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequirePermission wraps a handler with a permission check. The resource
// is extracted per request; a policy denial answers 403, a store failure
// answers 503.
func RequirePermission(resolver *Resolver, op Operation, extract func(*http.Request) (ResourceRef, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := extract(r)
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			actor := ActorFromContext(r.Context())
			decision, err := resolver.Resolve(r.Context(), actor, res, op)
			if err != nil {
				httputil.WriteUnavailable(w, "authorization temporarily unavailable")
				return
			}
			if !decision.Allowed {
				httputil.WriteForbidden(w, string(decision.Reason))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

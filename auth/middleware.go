package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/warp/replenishment-engine/workflow"
)

type contextKey int

const actorKey contextKey = iota

// Verifier is the subset of TokenService the middleware needs.
type Verifier interface {
	Verify(tokenString string) (*Claims, error)
}

// Middleware validates the Authorization bearer token and attaches the
// resulting workflow.Actor to the request context. Missing or invalid
// tokens get a 401 with the standard error envelope.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := verifier.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, claims.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom extracts the authenticated actor from the request context.
func ActorFrom(ctx context.Context) (workflow.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(workflow.Actor)
	return actor, ok
}

// WithActor returns a context carrying the given actor. Test helper.
func WithActor(ctx context.Context, actor workflow.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

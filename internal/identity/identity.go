// Package identity defines the resolved request identity and the trust
// boundary between the gateway and the internal services.
//
// The gateway is the only component that verifies credentials. Everything
// behind it trusts a single internal header carrying the user id; internal
// services never see or re-verify raw tokens.
package identity

import (
	"context"
	"encoding/json"
	"net/http"

	"mintify/internal/log"
)

// Header is the internal-only HTTP header carrying the verified user id.
const Header = "X-User-Id"

// Principal is the identity resolved for a single request. It lives only in
// the request context and is never persisted.
type Principal struct {
	ID     string
	Claims map[string]any
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal from the context.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// UserID returns the principal's user id, or "" when none is attached.
func UserID(ctx context.Context) string {
	p, _ := FromContext(ctx)
	return p.ID
}

// Require is the middleware internal services mount on every authenticated
// route. It accepts the gateway-propagated header as the sole source of
// identity; a request without it is rejected even if it carries a bearer
// token, since nothing behind the gateway verifies tokens.
func Require(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(Header)
			if userID == "" {
				logger.WarnContext(r.Context(), "Request without identity header rejected",
					"method", r.Method, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "Missing user identity.")
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{ID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

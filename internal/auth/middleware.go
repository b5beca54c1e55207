package auth

import (
	"context"
	"net/http"
)

type contextKey struct{}

// Identity is the authenticated caller derived from an access token.
type Identity struct {
	UserID   string
	Username string
}

// IdentityFromContext returns the caller injected by Middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// WithIdentity injects a caller identity, as Middleware would.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// Middleware validates the access-token cookie and injects the caller
// identity into the request context. Access tokens are checked
// statelessly; no store or cache call happens on this path.
func Middleware(authority *TokenAuthority, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(AccessTokenCookie)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "missing access token")
			return
		}

		claims, err := authority.ValidateAccess(cookie.Value)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired access token")
			return
		}

		ctx := WithIdentity(r.Context(), Identity{
			UserID:   claims.UserID,
			Username: claims.Username,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/stratix-hq/control-plane/internal/models"
	apierrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/pkg/response"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// identityKey is the context key the resolved caller identity is stored under.
const identityKey contextKey = "identity"

// Resolver validates a bearer token against the external authorization
// collaborator and returns the caller's identity. The engine never verifies
// credentials itself.
type Resolver func(ctx context.Context, token string) (models.Identity, error)

// Auth returns a middleware that resolves `Authorization: Bearer` into an
// Identity on the request context. Requests without a resolvable identity
// are rejected with 401.
func Auth(resolve Resolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")

			identity, err := resolve(r.Context(), token)
			if err != nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity the auth middleware attached.
// ok is false on routes mounted outside the auth middleware.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(models.Identity)
	return identity, ok
}

// WithIdentity returns a context carrying the given identity. Test helper
// and internal-call plumbing; the HTTP path always goes through Auth.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

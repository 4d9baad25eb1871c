package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api/response"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
)

type contextKey string

const IdentityKey contextKey = "identity"

// AuthMiddleware resolves bearer credentials into identities
type AuthMiddleware struct {
	auth domain.Authenticator
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(auth domain.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// Authenticate validates the bearer token and stores the identity in the context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			response.Unauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.auth.Authenticate(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil || identity == nil {
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity returns the authenticated identity from context
func GetIdentity(ctx context.Context) (*domain.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*domain.Identity)
	return identity, ok
}

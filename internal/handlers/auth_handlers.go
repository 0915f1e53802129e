package handlers

import (
	"context"
	"net/http"

	"chatrelay/internal/auth"
)

type claimsKey struct{}

// AuthHandlers guards the HTTP API with the bearer token. Tokens are issued
// by the identity service, not here.
type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// RequireAuth rejects requests without a valid token and stores the claims
// on the request context.
func (h *AuthHandlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.authService.FromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the caller set by RequireAuth.
func userID(r *http.Request) string {
	claims, ok := r.Context().Value(claimsKey{}).(*auth.Claims)
	if !ok {
		return ""
	}
	return claims.UserID
}

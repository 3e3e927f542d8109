package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/identity"
)

type contextKey string

const userContextKey contextKey = "user"

// UserID returns the authenticated user stored on ctx by RequireAuth.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userContextKey).(string)
	return id, ok && id != ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// BearerToken extracts the credential from the Authorization header, matching
// the scheme case-insensitively. Without a header it falls back to the token
// query parameter used by browser WebSocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// RequireAuth rejects requests without a valid bearer credential and stores
// the authenticated user on the request context.
func RequireAuth(auth identity.Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			userID, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(domain.Result{Error: true, Message: message})
}

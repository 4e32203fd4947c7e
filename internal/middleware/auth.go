package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mmynk/tallyledger/internal/api/respond"
	"github.com/mmynk/tallyledger/internal/auth"
	"github.com/mmynk/tallyledger/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for storing the authenticated user ID.
	UserIDKey      contextKey = "user_id"
	requestInfoKey contextKey = "request_info"
)

// GetUserID extracts the user ID from the context.
// Returns empty string if not found.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.userID = userID
	}
	return context.WithValue(ctx, UserIDKey, userID)
}

// RequireAuth rejects requests without a valid bearer token and adds the
// verified user ID to the request context.
func RequireAuth(v auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ExtractBearer(r.Header.Get("Authorization"))
			if err == nil {
				var userID string
				userID, err = v.Verify(r.Context(), token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
					return
				}
			}

			slog.Warn("Authentication failed", "path", r.URL.Path, "error", err)
			respond.WriteError(w, models.AuthError(err))
		})
	}
}

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/reponaut/edugain/internal/auth"
	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/pkg/debug"
)

type contextKey string

const userContextKey contextKey = "user"

// RequireAuth ensures that only requests carrying a valid session cookie
// reach the wrapped handler. The resolved account lands in the request
// context; deactivated accounts are rejected even with a valid token.
func RequireAuth(sessions *auth.SessionManager, users *repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.SessionToken(r)
			if token == "" {
				debug.Debug("No session cookie on %s %s", r.Method, r.URL.Path)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			subject, err := sessions.ValidateToken(token)
			if err != nil {
				debug.Warning("Invalid session token: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := uuid.Parse(subject)
			if err != nil {
				debug.Warning("Session token subject is not a user id: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				debug.Error("Failed to load session user %s: %v", userID, err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if user == nil || !user.Active {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
		})
	}
}

// UserFromContext returns the account RequireAuth resolved for this
// request.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

package handlers

import (
	"net/http"

	"github.com/signlearn/apiserver/internal/services"
	"github.com/signlearn/apiserver/types"
	"go.uber.org/zap"
)

// RequireAuth resolves the bearer token to an active user and binds it to
// the request context.
func RequireAuth(authService *services.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authService.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				writeServiceError(w, logger, err, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), &user)))
		})
	}
}

// RequireRole admits only users whose role is in roles. It must run after
// RequireAuth.
func RequireRole(logger *zap.Logger, roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := services.Authorize(UserFromContext(r.Context()), roles...); err != nil {
				writeServiceError(w, logger, err, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

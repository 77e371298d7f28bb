package authz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aula-lms/aula-lms/internal/shared"
)

// Checker is the caller-facing decision surface consumed by the HTTP gate.
type Checker interface {
	HasPermission(ctx context.Context, userID int64, permission string) (bool, error)
}

// Middleware wires authorization gates for HTTP handlers. Denied requests
// get 403; a store fault gets 500 — the gate never allows on a fault.
type Middleware struct {
	Checker Checker
	Logger  *slog.Logger
}

// Require ensures the current user passes a point check for the permission.
func (m Middleware) Require(permission string) func(http.Handler) http.Handler {
	return m.RequireAny(permission)
}

// RequireAny ensures the current user passes a point check for at least one
// of the permissions. Point checks honour the permission hierarchy.
func (m Middleware) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(permissions) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.CurrentUserID(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, permission := range permissions {
				allowed, err := m.Checker.HasPermission(r.Context(), userID, permission)
				if err != nil {
					m.logError("authz gate check", err)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				if allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current user passes a point check for every
// permission.
func (m Middleware) RequireAll(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(permissions) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.CurrentUserID(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, permission := range permissions {
				allowed, err := m.Checker.HasPermission(r.Context(), userID, permission)
				if err != nil {
					m.logError("authz gate check", err)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				if !allowed {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

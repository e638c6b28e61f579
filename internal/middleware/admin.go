package middleware

import (
	"context"
	"log/slog"
	"net/http"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// RequireAdmin admits super admins and admins holding role. An empty role admits any admin.
func RequireAdmin(adminStore AdminStore, role string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, ok := UserIDFromContext(ctx)
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			isAdmin, isSuper, err := adminStore.IsAdmin(ctx, userID)
			if err != nil {
				log.ErrorContext(ctx, "admin lookup failed", slog.String("user_id", userID), slog.Any("error", err))
				deny(w, http.StatusInternalServerError, "unable to verify admin")
				return
			}
			if !isAdmin {
				log.WarnContext(ctx, "non-admin hit admin route", slog.String("user_id", userID), slog.String("path", r.URL.Path))
				deny(w, http.StatusForbidden, "admin privileges required")
				return
			}
			ctx = context.WithValue(ctx, isSuperKey, isSuper)
			if isSuper || role == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			hasRole, err := adminStore.HasRole(ctx, userID, role)
			if err != nil {
				log.ErrorContext(ctx, "admin role lookup failed", slog.String("user_id", userID), slog.Any("error", err))
				deny(w, http.StatusInternalServerError, "unable to verify role")
				return
			}
			if !hasRole {
				deny(w, http.StatusForbidden, "missing required role: "+role)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

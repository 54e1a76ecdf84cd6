package middleware

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/permission"
)

// RequireRoles admits the request when the caller's role satisfies at least
// one of roles. It must run after Guard; a request without claims is forbidden.
func RequireRoles(h *permission.Hierarchies, logger *zap.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := posauth.ClaimsFromContext(r.Context())
			if !ok || !h.IsAuthorizedAny(claims.Role, roles...) {
				WriteError(w, logger, posauth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProtectAdminTargets rejects a manager acting on an admin account. targetID
// extracts the account the route operates on; an empty id passes through.
func ProtectAdminTargets(store account.Store, logger *zap.Logger, targetID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := posauth.ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, logger, posauth.ErrForbidden)
				return
			}
			id := targetID(r)
			if id == "" || claims.Role != permission.RoleManager {
				next.ServeHTTP(w, r)
				return
			}

			target, err := store.FindByID(r.Context(), id)
			if err != nil {
				if errors.Is(err, account.ErrNotFound) {
					err = posauth.ErrAccountNotFound
				}
				WriteError(w, logger, err)
				return
			}
			if target.Role == permission.RoleAdmin {
				WriteError(w, logger, posauth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

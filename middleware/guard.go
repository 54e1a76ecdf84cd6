package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/jwt"
)

// Guard authenticates the bearer access token and confirms the account still
// exists and is active. Verified claims are attached to the request context.
func Guard(engine *posauth.Engine, logger *zap.Logger) func(http.Handler) http.Handler {
	return guard(logger, func(r *http.Request, token string) (*jwt.Claims, error) {
		return engine.Authenticate(r.Context(), token)
	})
}

// GuardStateless only verifies the access token's signature and expiry. Use it
// where a store round-trip per request is too expensive and a deactivated
// account keeping access until its token expires is acceptable.
func GuardStateless(engine *posauth.Engine, logger *zap.Logger) func(http.Handler) http.Handler {
	return guard(logger, func(_ *http.Request, token string) (*jwt.Claims, error) {
		return engine.VerifyAccess(token)
	})
}

func guard(logger *zap.Logger, check func(*http.Request, string) (*jwt.Claims, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, logger, posauth.ErrInvalidAccessToken)
				return
			}

			claims, err := check(r, token)
			if err != nil {
				WriteError(w, logger, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(posauth.WithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

package middleware

import (
	"net/http"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/internal"
)

// ClientContext attaches the client IP and User-Agent to the request context.
// Put it first in the chain: the engine throttles on the IP.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := posauth.WithClientIP(r.Context(), internal.ClientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = posauth.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

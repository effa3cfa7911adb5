package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zeusync/serversignal/internal/core/observability/log"
)

// BearerToken rejects requests that do not carry token, either as an
// "Authorization: Bearer" header or a "token" query parameter. Browsers
// cannot set headers on websocket upgrades, hence the query fallback. An
// empty token disables the check.
func BearerToken(token string, logger log.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				got = strings.TrimPrefix(h, "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.Warn("Unauthenticated client rejected", log.String("remote_addr", r.RemoteAddr))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

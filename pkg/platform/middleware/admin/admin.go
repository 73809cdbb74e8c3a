// Package admin guards operator endpoints with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"lamport/pkg/platform/httputil"
	"lamport/pkg/platform/middleware/metadata"
)

const TokenHeader = "X-Admin-Token"

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// expectedToken. An empty expectedToken rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(TokenHeader)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", chimw.GetReqID(ctx),
					"client_ip", metadata.GetClientIP(ctx),
				)
				httputil.WriteError(w, httputil.NewError(http.StatusUnauthorized, "unauthorized", "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

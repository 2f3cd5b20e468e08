package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"covenant/pkg/requestcontext"
)

const (
	HeaderAdminToken = "X-Admin-Token"
	HeaderAdminID    = "X-Admin-ID"

	RoleAdmin = "ADMIN"
)

// RequireAdminToken admits requests carrying the shared admin token and an
// X-Admin-ID naming the operator. The operator becomes the ADMIN actor for the
// rest of the request. An empty expected token rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(HeaderAdminToken)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
				)
				writeUnauthorized(w, "admin token required")
				return
			}

			adminID := strings.TrimSpace(r.Header.Get(HeaderAdminID))
			if adminID == "" {
				writeUnauthorized(w, "admin id required")
				return
			}

			ctx = requestcontext.WithActor(ctx, adminID, RoleAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + desc + `"}`))
}

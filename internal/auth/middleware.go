package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/citadel-pam/citadel/internal/platform/httpx"
)

// Middleware rejects requests without a valid bearer token. Verification is
// a no-op when the service has no token configured.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if err := service.VerifyToken(token); err != nil {
				if logger != nil {
					logger.Warn("rejected api token", slog.String("path", r.URL.Path))
				}
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

package appMiddleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/auth"
)

// AuthMiddleware validates the Bearer credential on every request and stores
// the resolved identity in the request context.
func AuthMiddleware(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenStr == authHeader {
				http.Error(w, "Invalid token format", http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(tokenStr)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected request credential")
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

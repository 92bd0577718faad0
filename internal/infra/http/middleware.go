package http

import (
	"context"
	"net/http"
	"strings"

	"arcyn-link/internal/domain"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// AuthMiddleware проверяет Bearer-токен и кладёт личность в контекст запроса.
func AuthMiddleware(verifier domain.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			identity, err := verifier.Verify(token)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "недействительный токен")
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext возвращает личность, положенную AuthMiddleware.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/zerodna/cms-authz/internal/platform/httpx"
	"github.com/zerodna/cms-authz/internal/shared"
)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// BearerMiddleware resolves bearer tokens into a user id on the request
// context. Requests without a token pass through to session auth.
func BearerMiddleware(tokens *TokenIssuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := tokens.Parse(raw)
			if err != nil {
				if logger != nil {
					logger.Debug("bearer token rejected", slog.Any("error", err))
				}
				httpx.JSON(w, http.StatusUnauthorized, httpx.Message{Message: "Invalid or expired token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), userID)))
		})
	}
}

package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
)

type contextKey string

const CallerKey contextKey = "caller"

// Caller identifies an authenticated API client.
type Caller struct {
	Name string
}

func GetCallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(*Caller)
	return caller, ok
}

// RequireToken accepts requests carrying "Authorization: Bearer <token>".
// An empty token rejects every request.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok ||
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
				logger.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				}).Warn("Unauthorized request")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), CallerKey, &Caller{Name: "api_token"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

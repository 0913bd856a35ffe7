package auth

import (
	"net/http"
	"strings"
)

// Middleware rejects requests without a valid bearer token.
type Middleware struct {
	Secret []byte
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte) *Middleware {
	return &Middleware{Secret: secret}
}

// Wrap applies auth to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), claims.Subject)))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

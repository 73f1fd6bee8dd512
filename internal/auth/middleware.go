// Package auth provides operator authentication middleware and token
// management.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Context key type for avoiding collisions
type contextKey string

const operatorContextKey contextKey = "operator"

// OperatorFromContext returns the authenticated operator, or "".
func OperatorFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operatorContextKey).(string); ok {
		return op
	}
	return ""
}

// Middleware returns an HTTP middleware that requires a valid operator token
// in X-API-Key or an Authorization bearer header.
func Middleware(v Validator, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Operator token required")
				return
			}

			operator, ok := v.Validate(token)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid operator token")
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if token := r.Header.Get("X-API-Key"); token != "" {
		return token
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

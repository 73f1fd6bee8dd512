// Package security provides request filtering and body size limits.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// exemptPaths bypass the scanner filter
var exemptPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// probePrefixes are path prefixes only vulnerability scanners ask for
var probePrefixes = []string{
	"/.php",
	"/.git/",
	"/.env",
	"/.htaccess",
	"/.htpasswd",
	"/wp-admin",
	"/wp-includes",
	"/wp-content",
	"/wp-login",
	"/xmlrpc.php",
	"/phpmyadmin",
	"/phpinfo",
	"/cgi-bin/",
	"/web-inf/",
	"/admin/",
	"/shell",
	"/config.",
	"/server-status",
}

// traversalMarkers indicate path traversal or null byte injection
var traversalMarkers = []string{
	"../",
	"..%2f",
	"..%5c",
	"%2e%2e/",
	"%00",
}

// FilterMiddleware rejects scanner probes and traversal attempts with a
// generic 400. It is a pass-through when disabled.
func FilterMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !exemptPaths[r.URL.Path] && suspicious(r.URL) {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func suspicious(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, p := range probePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	if containsAny(path, traversalMarkers) {
		return true
	}

	// Encoded forms survive the first decode; check the raw path once more.
	raw := u.RawPath
	if raw == "" {
		raw = u.Path
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		return containsAny(strings.ToLower(decoded), traversalMarkers)
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// MaxBodySizeMiddleware caps request bodies at maxSizeMB megabytes.
// Requests that declare a larger Content-Length are rejected with 413
// before the handler runs; bodies without a declared length are cut off
// by http.MaxBytesReader.
func MaxBodySizeMiddleware(maxSizeMB int) func(http.Handler) http.Handler {
	maxBytes := int64(maxSizeMB) << 20

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

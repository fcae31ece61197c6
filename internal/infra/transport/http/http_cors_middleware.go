package http

import (
	"net/http"
	"slices"
	"strings"
)

// CORSMiddleware adds Access-Control headers for the allowed origins and answers
// preflight requests. Credentials are allowed because the session lives in cookies,
// so a wildcard origin is echoed back instead of sent as "*".
func CORSMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	allowAll := slices.Contains(allowedOrigins, "*")

	normalized := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		normalized = append(normalized, strings.ToLower(origin))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && (allowAll || slices.Contains(normalized, strings.ToLower(origin))) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token, X-Request-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

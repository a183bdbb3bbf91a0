package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"mercator-hq/ganymede/pkg/config"
)

// CORSMiddleware applies cross-origin headers for the management UI.
// Preflight OPTIONS requests are answered directly.
//
// Example usage:
//
//	handler = CORSMiddleware(&cfg.Server)(handler)
func CORSMiddleware(cfg *config.ServerConfig) func(http.Handler) http.Handler {
	allowedOrigins := cfg.CORS.AllowedOrigins
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	methods := strings.Join(cfg.CORS.AllowedMethods, ", ")
	headers := strings.Join(cfg.CORS.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.CORS.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.CORSEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin != "" {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if originAllowed(allowedOrigins, origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	return false
}

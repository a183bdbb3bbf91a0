package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/ganymede/pkg/proxy/types"
)

// RecoveryMiddleware recovers from panics in handlers and returns a 500 in
// the client error format. The panic and stack trace are logged; internal
// details never reach the client.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(r.Context())
				stack := debug.Stack()

				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(stack),
				)

				types.WriteError(w, http.StatusInternalServerError,
					"An internal error occurred. Please try again later.")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

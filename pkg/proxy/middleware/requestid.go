package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/telemetry/logging"
)

// RequestIDHeader is the HTTP header for request ids.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns each request a unique id, honoring a
// client-provided X-Request-ID. The id lands in the request context (for
// handlers and structured logs) and in the response headers.
//
// Example usage:
//
//	handler = RequestIDMiddleware(handler)
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request id from the context. Returns "" if
// absent.
func GetRequestID(ctx context.Context) string {
	return logging.RequestID(ctx)
}

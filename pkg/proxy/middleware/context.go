package middleware

// contextKey is a private type for middleware context keys.
type contextKey string

// StartTimeKey holds the request start time in the request context.
const StartTimeKey contextKey = "start_time"

package logging

import "context"

// contextKey is a private type for context keys in this package.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	accountKey   contextKey = "account"
	sessionKey   contextKey = "session_id"
)

// WithRequestID attaches a request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithAccount attaches an account key to the context.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// WithSession attaches a session id to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// RequestID returns the request id from the context, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// extractContextFields collects known context values as slog args.
func extractContextFields(ctx context.Context) []any {
	var args []any
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		args = append(args, "request_id", v)
	}
	if v, ok := ctx.Value(accountKey).(string); ok && v != "" {
		args = append(args, "account", v)
	}
	if v, ok := ctx.Value(sessionKey).(string); ok && v != "" {
		args = append(args, "session_id", v)
	}
	return args
}

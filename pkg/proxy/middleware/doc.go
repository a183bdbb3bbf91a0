// Package middleware provides the HTTP middleware chain: panic recovery,
// request ids, structured request logging, and CORS. Per-request deadlines
// live in the dispatcher rather than a timeout middleware so SSE streams
// can run long.
package middleware

// Package handlers implements the client-facing HTTP endpoints: the native
// messages surface (unary and SSE), the OpenAI-compatible chat surface,
// model listing, the unimplemented count_tokens stub, and health.
package handlers

// Package anthropic defines the client-facing wire formats: the native
// messages request/response with tagged content blocks, the streaming
// event vocabulary, and the OpenAI-compatible chat shapes served on the
// compatibility surface.
package anthropic

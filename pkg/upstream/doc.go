// Package upstream calls the internal generate-content API.
//
// Each request is wrapped in the {project, model, userAgent, requestId,
// request} envelope and posted to one of the fallback-ordered hosts. Two
// operational endpoints exist per host: unary generateContent and SSE
// streamGenerateContent; the dispatcher prefers SSE for thinking-capable
// models because the unary form drops reasoning blocks.
//
// Authentication is a "token for this account" boundary: the TokenProvider
// exchanges long-lived refresh tokens for short-lived bearers, caches them
// per account, and surfaces PermanentAuthError for credentials the OAuth
// endpoint says are dead. Project ids derive lazily from loadCodeAssist and
// cache on the account, as do quota snapshots from fetchAvailableModels.
package upstream

// Package routing implements account selection policies.
//
// Three policies share the Policy interface:
//
//   - round-robin: stateless rotation across usable accounts
//   - sticky: session affinity with round-robin fallback and a wait hint
//     when the pinned account's rate limit resets soon
//   - hybrid (default): scores usable candidates by health, pacing-bucket
//     headroom, quota snapshot, and idle time, with tiered constraint
//     relaxation when the pool degrades
//
// The hybrid policy implements OutcomeRecorder; the dispatcher reports each
// request outcome so health scores track reality. Health updates are applied
// atomically after a request completes, so concurrent scorers see consistent
// deltas.
package routing

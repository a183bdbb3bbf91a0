// Package account implements the upstream identity pool.
//
// # Overview
//
// The Pool holds enrolled accounts and tracks, per account, concurrency,
// validity, last use, per-(model, quota class) rate-limit state, and quota
// snapshots harvested from the upstream metadata endpoint. Selection
// policies consult the pool's usability predicate; the dispatcher mutates
// limit state as requests succeed or fail.
//
// # Rate-limit cooldowns
//
// MarkRateLimited derives a cooldown from the server-provided reset when it
// is plausible (positive and under the configured cap), falling back to the
// configured default. Daily limits carry a one-hour floor. Consecutive hits
// on the same quota key double the cooldown each time, capped at 30x. The
// recorded resets are treated as upper bounds: when the entire pool is
// limited the dispatcher calls ResetAllFor to force a fresh probe.
//
// # Locking
//
// Each account guards its own fields with a per-account mutex; the pool's
// list lock covers only insert, remove, and the round-robin cursor. Session
// tracking has a separate lock.
//
// # Persistence
//
// Every mutation schedules an asynchronous save of accounts.json. Saves
// coalesce into at most one in-flight write plus one pending follow-up.
package account

// Package schedule runs the proxy's periodic maintenance on cron
// schedules: signature-cache TTL sweeps, session eviction, expired
// rate-limit clearing, usage pruning, and staggered quota refresh.
package schedule

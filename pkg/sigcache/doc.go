// Package sigcache preserves opaque reasoning signatures across
// conversation turns. Clients routinely strip signatures when replaying
// history; without restoration the upstream rejects the conversation. Three
// bounded TTL stores cover the restoration paths: by tool-use id, by
// signature (family detection), and by session (latest signature). State
// persists to signature-cache.json with coalesced writes.
package sigcache

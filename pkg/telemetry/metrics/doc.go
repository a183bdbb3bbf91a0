// Package metrics exposes prometheus metrics for the proxy: request counts
// and durations, token throughput, classified upstream errors, account
// rate-limit markings, and dispatcher attempt distribution.
package metrics

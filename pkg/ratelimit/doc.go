// Package ratelimit provides the token bucket used by the hybrid account
// selection policy to pace traffic onto individual accounts.
package ratelimit

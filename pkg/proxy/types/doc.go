// Package types maps internal failures onto the client-facing error
// envelope and HTTP statuses.
package types

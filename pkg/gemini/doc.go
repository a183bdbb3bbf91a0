// Package gemini defines the upstream wire format: the request envelope,
// generate-content bodies with tagged parts (including thought parts and
// their signatures), tool declarations, and response candidates with usage
// metadata.
package gemini

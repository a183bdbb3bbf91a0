// Package relay translates upstream server-sent events into client-facing
// stream events, block by block.
//
// The relay is single-reader single-writer per connection: events reach the
// sink in production order, block indices strictly increase, and a
// content_block_stop always precedes the next content_block_start. Errors
// after headers are sent travel as a terminal error event, since the HTTP
// status can no longer change.
package relay

// Package dispatch implements the outer request control loop.
//
// For each request the dispatcher consults the selection policy for an
// account, borrows a concurrency slot, builds the upstream payload, and
// descends the endpoint fallback order. Every upstream outcome maps to a
// closed ErrorKind, and the loop's policy table decides per kind: retry the
// same account, mark it limited and switch, invalidate it, wait for a
// reset, or fail the request. Waits run in ten-second slices with progress
// logging and are interruptible by cancellation; client cancellation never
// records a health penalty.
//
// When every account is simultaneously limited for the requested model the
// dispatcher clears those limits once per request and probes again, because
// the recorded reset times are upper bounds and often wrong. The clear is
// logged at Warn.
//
// A static fallback chain maps exhausted models to substitutes; cycles are
// rejected at configuration load, and the chain walk itself never recurses.
package dispatch

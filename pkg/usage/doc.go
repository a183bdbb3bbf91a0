// Package usage tracks request consumption.
//
// History keeps hour-bucketed counts per model family in
// usage-history.json, capped at thirty days. RequestLog records individual
// dispatch outcomes in SQLite for the management surface; the driver is
// selectable between the CGO-free build and the cgo one.
package usage

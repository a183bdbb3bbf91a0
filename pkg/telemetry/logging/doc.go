// Package logging provides structured logging for Ganymede.
//
// The Logger wraps log/slog with level and format parsing plus credential
// redaction: refresh tokens, bearer tokens, and API keys never reach log
// output. InstallDefault wires the logger into the slog default so packages
// that log through slog share the same handler.
package logging

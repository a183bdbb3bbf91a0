// Package config loads, validates, and hot-reloads Ganymede's configuration.
//
// Configuration is read from a single file (JSON or YAML; JSON files parse
// through the YAML reader unchanged), overlaid with GANYMEDE_* environment
// variables, and validated before use. A global singleton holds the active
// configuration; an fsnotify-based Watcher reloads it when the file changes,
// discarding any candidate that fails validation.
//
// Basic usage:
//
//	if err := config.Initialize("config.json"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.MustGetConfig()
package config

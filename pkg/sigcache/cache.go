package sigcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Family identifies which model family produced a reasoning signature.
// Signatures are family-specific; mixing families in one upstream request
// is rejected by the upstream.
type Family string

const (
	// FamilyClaude signatures guard claude-routed reasoning blocks.
	FamilyClaude Family = "claude"
	// FamilyGemini signatures guard gemini reasoning blocks.
	FamilyGemini Family = "gemini"
)

// MinSignatureLength is the shortest signature treated as real. Anything
// shorter is noise from partial deltas and handled as absent.
const MinSignatureLength = 16

// Valid reports whether sig is long enough to be a usable signature.
func Valid(sig string) bool {
	return len(sig) >= MinSignatureLength
}

// Store capacities and lifetimes.
const (
	toolCapacity    = 10000
	familyCapacity  = 5000
	sessionCapacity = 1000

	entryTTL = time.Hour

	// SweepInterval is how often the expiry sweep should run.
	SweepInterval = 5 * time.Minute
)

// entry is one cached value with its insertion timestamp.
type entry struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// Cache preserves opaque reasoning signatures across conversation turns.
//
// Three keyed stores cooperate:
//
//  1. tool-use id -> signature, for signatures attached to tool calls
//  2. signature -> family, to detect cross-family mixing
//  3. session id -> latest reasoning signature, used when the client strips
//     signatures from its replay
//
// Each store is bounded; the oldest insertion is evicted on overflow.
// Entries expire after one hour, swept periodically.
type Cache struct {
	mu        sync.Mutex
	byToolID  map[string]entry
	byFamily  map[string]entry
	bySession map[string]entry

	path     string
	dirty    bool
	inFlight bool
	pending  bool
	wg       sync.WaitGroup
}

// New creates a cache persisting to path. An empty path disables
// persistence (used by tests).
func New(path string) *Cache {
	return &Cache{
		byToolID:  make(map[string]entry),
		byFamily:  make(map[string]entry),
		bySession: make(map[string]entry),
		path:      path,
	}
}

// persistedState is the on-disk shape: three maps of {value, timestamp}.
type persistedState struct {
	ToolSignatures    map[string]entry `json:"toolSignatures"`
	SignatureFamilies map[string]entry `json:"signatureFamilies"`
	SessionSignatures map[string]entry `json:"sessionSignatures"`
}

// Load reads the persisted cache, dropping entries already past TTL.
func (c *Cache) Load() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read signature cache %q: %w", c.path, err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse signature cache %q: %w", c.path, err)
	}

	cutoff := time.Now().Add(-entryTTL).UnixMilli()
	keep := func(m map[string]entry) map[string]entry {
		out := make(map[string]entry, len(m))
		for k, e := range m {
			if e.Timestamp > cutoff {
				out[k] = e
			}
		}
		return out
	}

	c.mu.Lock()
	c.byToolID = keep(state.ToolSignatures)
	c.byFamily = keep(state.SignatureFamilies)
	c.bySession = keep(state.SessionSignatures)
	c.mu.Unlock()
	return nil
}

// StoreToolSignature caches a signature under its tool-use id.
func (c *Cache) StoreToolSignature(toolUseID, sig string) {
	if toolUseID == "" || !Valid(sig) {
		return
	}
	c.mu.Lock()
	c.insertLocked(c.byToolID, toolUseID, sig, toolCapacity)
	c.mu.Unlock()
	c.scheduleSave()
}

// ToolSignature returns the cached signature for a tool-use id.
func (c *Cache) ToolSignature(toolUseID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(c.byToolID, toolUseID)
}

// StoreFamily records which family produced a signature.
func (c *Cache) StoreFamily(sig string, family Family) {
	if !Valid(sig) {
		return
	}
	c.mu.Lock()
	c.insertLocked(c.byFamily, sig, string(family), familyCapacity)
	c.mu.Unlock()
	c.scheduleSave()
}

// FamilyOf returns the recorded family for a signature.
func (c *Cache) FamilyOf(sig string) (Family, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lookupLocked(c.byFamily, sig)
	return Family(v), ok
}

// StoreSessionSignature records the latest reasoning signature seen on a
// session.
func (c *Cache) StoreSessionSignature(sessionID, sig string) {
	if sessionID == "" || !Valid(sig) {
		return
	}
	c.mu.Lock()
	c.insertLocked(c.bySession, sessionID, sig, sessionCapacity)
	c.mu.Unlock()
	c.scheduleSave()
}

// SessionSignature returns the latest signature cached for a session.
func (c *Cache) SessionSignature(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(c.bySession, sessionID)
}

// Sweep removes expired entries from all stores. Returns entries removed.
func (c *Cache) Sweep() int {
	cutoff := time.Now().Add(-entryTTL).UnixMilli()
	removed := 0

	c.mu.Lock()
	for _, m := range []map[string]entry{c.byToolID, c.byFamily, c.bySession} {
		for k, e := range m {
			if e.Timestamp <= cutoff {
				delete(m, k)
				removed++
			}
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	c.mu.Unlock()

	if removed > 0 {
		slog.Debug("signature cache sweep", "removed", removed)
		c.scheduleSave()
	}
	return removed
}

// Sizes returns the entry counts of the three stores.
func (c *Cache) Sizes() (tool, family, session int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byToolID), len(c.byFamily), len(c.bySession)
}

func (c *Cache) lookupLocked(m map[string]entry, key string) (string, bool) {
	e, ok := m[key]
	if !ok {
		return "", false
	}
	if time.Now().UnixMilli()-e.Timestamp > entryTTL.Milliseconds() {
		delete(m, key)
		return "", false
	}
	return e.Value, true
}

// insertLocked stores an entry, evicting the oldest insertion on overflow.
// Caller must hold c.mu.
func (c *Cache) insertLocked(m map[string]entry, key, value string, capacity int) {
	if _, exists := m[key]; !exists && len(m) >= capacity {
		var oldestKey string
		var oldest int64
		for k, e := range m {
			if oldestKey == "" || e.Timestamp < oldest {
				oldestKey = k
				oldest = e.Timestamp
			}
		}
		if oldestKey != "" {
			delete(m, oldestKey)
		}
	}
	m[key] = entry{Value: value, Timestamp: time.Now().UnixMilli()}
	c.dirty = true
}

// scheduleSave queues an asynchronous save. Saves are a no-op when the
// cache is clean, and coalesce while one is in flight.
func (c *Cache) scheduleSave() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	if c.inFlight {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
}

func (c *Cache) run() {
	defer c.wg.Done()
	for {
		if err := c.save(); err != nil {
			slog.Error("signature cache save failed", "path", c.path, "error", err)
		}

		c.mu.Lock()
		if !c.pending {
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
	}
}

// SaveNow flushes synchronously, waiting out any asynchronous writer.
// Used at shutdown.
func (c *Cache) SaveNow() error {
	if c.path == "" {
		return nil
	}
	c.wg.Wait()
	return c.save()
}

func (c *Cache) save() error {
	c.mu.Lock()
	state := persistedState{
		ToolSignatures:    cloneEntries(c.byToolID),
		SignatureFamilies: cloneEntries(c.byFamily),
		SessionSignatures: cloneEntries(c.bySession),
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal signature cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write signature cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace signature cache: %w", err)
	}
	return nil
}

func cloneEntries(m map[string]entry) map[string]entry {
	out := make(map[string]entry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

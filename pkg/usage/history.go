package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// History keeps hour-bucketed request counts per model family and model,
// persisted to usage-history.json and capped at thirty days.
//
// The on-disk shape is:
//
//	{"2026-08-05T14": {"claude": {"claude-sonnet-4-5": 12, "_subtotal": 12}, "_total": 30}, ...}
type History struct {
	path string

	mu      sync.Mutex
	buckets map[string]hourBucket
	dirty   bool

	saveMu   sync.Mutex
	inFlight bool
	pending  bool
	wg       sync.WaitGroup
}

type hourBucket map[string]json.RawMessage

// retentionHours caps history at 30 days.
const retentionHours = 30 * 24

// bucketKeyFormat is the hour bucket key layout.
const bucketKeyFormat = "2006-01-02T15"

// internal representation: family -> model -> count, plus totals.
type bucket struct {
	Families map[string]map[string]int64
	Total    int64
}

// NewHistory creates a history persisting to path. Empty path disables
// persistence.
func NewHistory(path string) *History {
	return &History{
		path:    path,
		buckets: make(map[string]hourBucket),
	}
}

// Load reads the persisted history, pruning expired buckets.
func (h *History) Load() error {
	if h.path == "" {
		return nil
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read usage history %q: %w", h.path, err)
	}

	var buckets map[string]hourBucket
	if err := json.Unmarshal(data, &buckets); err != nil {
		return fmt.Errorf("failed to parse usage history %q: %w", h.path, err)
	}

	h.mu.Lock()
	h.buckets = buckets
	h.pruneLocked()
	h.mu.Unlock()
	return nil
}

// Increment bumps the current hour's count for a model.
func (h *History) Increment(model string) {
	key := time.Now().UTC().Format(bucketKeyFormat)
	family := modelFamilyName(model)

	h.mu.Lock()
	hb, ok := h.buckets[key]
	if !ok {
		hb = make(hourBucket)
		h.buckets[key] = hb
	}
	b := decodeBucket(hb)
	if b.Families[family] == nil {
		b.Families[family] = make(map[string]int64)
	}
	b.Families[family][model]++
	b.Total++
	h.buckets[key] = encodeBucket(b)
	h.pruneLocked()
	h.dirty = true
	h.mu.Unlock()

	h.scheduleSave()
}

// Snapshot returns the raw buckets for the management surface.
func (h *History) Snapshot() map[string]json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]json.RawMessage, len(h.buckets))
	for key, hb := range h.buckets {
		data, err := json.Marshal(hb)
		if err != nil {
			continue
		}
		out[key] = data
	}
	return out
}

// Prune drops buckets past retention. Called by the scheduler.
func (h *History) Prune() int {
	h.mu.Lock()
	removed := h.pruneLocked()
	if removed > 0 {
		h.dirty = true
	}
	h.mu.Unlock()
	if removed > 0 {
		h.scheduleSave()
	}
	return removed
}

func (h *History) pruneLocked() int {
	cutoff := time.Now().UTC().Add(-retentionHours * time.Hour).Format(bucketKeyFormat)
	removed := 0
	for key := range h.buckets {
		if key < cutoff {
			delete(h.buckets, key)
			removed++
		}
	}
	return removed
}

// SaveNow flushes synchronously. Used at shutdown.
func (h *History) SaveNow() error {
	if h.path == "" {
		return nil
	}
	h.wg.Wait()
	return h.save()
}

func (h *History) scheduleSave() {
	if h.path == "" {
		return
	}
	h.saveMu.Lock()
	if h.inFlight {
		h.pending = true
		h.saveMu.Unlock()
		return
	}
	h.inFlight = true
	h.saveMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			if err := h.save(); err != nil {
				slog.Error("usage history save failed", "path", h.path, "error", err)
			}
			h.saveMu.Lock()
			if !h.pending {
				h.inFlight = false
				h.saveMu.Unlock()
				return
			}
			h.pending = false
			h.saveMu.Unlock()
		}
	}()
}

func (h *History) save() error {
	h.mu.Lock()
	data, err := json.MarshalIndent(h.buckets, "", "  ")
	h.dirty = false
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal usage history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write usage history: %w", err)
	}
	return os.Rename(tmp, h.path)
}

// decodeBucket parses the wire bucket shape with _subtotal/_total keys.
func decodeBucket(hb hourBucket) bucket {
	b := bucket{Families: make(map[string]map[string]int64)}
	for family, raw := range hb {
		if family == "_total" {
			_ = json.Unmarshal(raw, &b.Total)
			continue
		}
		var models map[string]int64
		if err := json.Unmarshal(raw, &models); err != nil {
			continue
		}
		delete(models, "_subtotal")
		b.Families[family] = models
	}
	return b
}

// encodeBucket renders the wire shape, recomputing subtotals.
func encodeBucket(b bucket) hourBucket {
	hb := make(hourBucket, len(b.Families)+1)
	for family, models := range b.Families {
		var subtotal int64
		wire := make(map[string]int64, len(models)+1)
		for model, count := range models {
			wire[model] = count
			subtotal += count
		}
		wire["_subtotal"] = subtotal
		data, err := json.Marshal(wire)
		if err != nil {
			continue
		}
		hb[family] = data
	}
	total, _ := json.Marshal(b.Total)
	hb["_total"] = total
	return hb
}

// modelFamilyName buckets a model id by family for the history keys.
func modelFamilyName(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		return "claude"
	case strings.Contains(lower, "gemini"):
		return "gemini"
	case strings.HasPrefix(lower, "gpt"):
		return "gpt"
	default:
		return "other"
	}
}

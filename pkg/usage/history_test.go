package usage

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestHistory_IncrementShape(t *testing.T) {
	h := NewHistory("")
	h.Increment("claude-sonnet-4-5")
	h.Increment("claude-sonnet-4-5")
	h.Increment("gemini-3-pro-preview")

	snapshot := h.Snapshot()
	key := time.Now().UTC().Format(bucketKeyFormat)
	raw, ok := snapshot[key]
	if !ok {
		t.Fatalf("no bucket for the current hour; got %v", snapshot)
	}

	var bucket map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bucket); err != nil {
		t.Fatal(err)
	}

	var total int64
	if err := json.Unmarshal(bucket["_total"], &total); err != nil || total != 3 {
		t.Errorf("_total = %d, want 3", total)
	}

	var claude map[string]int64
	if err := json.Unmarshal(bucket["claude"], &claude); err != nil {
		t.Fatal(err)
	}
	if claude["claude-sonnet-4-5"] != 2 {
		t.Errorf("claude count = %d, want 2", claude["claude-sonnet-4-5"])
	}
	if claude["_subtotal"] != 2 {
		t.Errorf("claude subtotal = %d, want 2", claude["_subtotal"])
	}
}

func TestHistory_Prune(t *testing.T) {
	h := NewHistory("")
	h.Increment("gemini-3-pro-preview")

	// Fabricate an expired bucket.
	old := time.Now().UTC().Add(-31 * 24 * time.Hour).Format(bucketKeyFormat)
	h.mu.Lock()
	h.buckets[old] = hourBucket{"_total": json.RawMessage("1")}
	h.mu.Unlock()

	if removed := h.Prune(); removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}
	if _, ok := h.Snapshot()[old]; ok {
		t.Error("expired bucket should be gone")
	}
}

func TestHistory_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage-history.json")
	h := NewHistory(path)
	h.Increment("claude-sonnet-4-5")
	if err := h.SaveNow(); err != nil {
		t.Fatalf("SaveNow() error = %v", err)
	}

	reloaded := NewHistory(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	key := time.Now().UTC().Format(bucketKeyFormat)
	if _, ok := reloaded.Snapshot()[key]; !ok {
		t.Error("bucket did not survive the round trip")
	}
}

func TestModelFamilyName(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{model: "claude-sonnet-4-5", want: "claude"},
		{model: "gemini-3-flash-preview", want: "gemini"},
		{model: "gpt-oss-120b", want: "gpt"},
		{model: "mystery-model", want: "other"},
	}
	for _, tt := range tests {
		if got := modelFamilyName(tt.model); got != tt.want {
			t.Errorf("modelFamilyName(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

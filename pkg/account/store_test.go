package account

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	store := NewStore(path)

	pool := NewPool(PoolConfig{
		MaxConcurrent:   5,
		DefaultCooldown: time.Minute,
		MaxCooldown:     time.Hour,
	}, store)

	acct := pool.Add(&Account{Key: "a@example.com", RefreshToken: "tok"})
	pool.MarkRateLimited("a@example.com", QuotaKey("m", ClassAntigravity), 0, LimitTypeUser)
	pool.Borrow(acct)

	if err := pool.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded := NewPool(PoolConfig{
		MaxConcurrent:   5,
		DefaultCooldown: time.Minute,
		MaxCooldown:     time.Hour,
	}, NewStore(path))
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := reloaded.Get("a@example.com")
	if got == nil {
		t.Fatal("account missing after reload")
	}
	if tok, _ := got.Credentials(); tok != "tok" {
		t.Errorf("refresh token = %q, want tok", tok)
	}
	if state, ok := got.RateLimit(QuotaKey("m", ClassAntigravity)); !ok || !state.Limited {
		t.Error("rate limit state should persist")
	}
	// In-flight counters are process state, never persisted.
	if got.Active() != 0 {
		t.Errorf("activeRequests = %d, want 0 after reload", got.Active())
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	accounts, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("accounts = %d, want 0", len(accounts))
	}
}

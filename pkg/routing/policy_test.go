package routing

import (
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
)

func testPool() *account.Pool {
	return account.NewPool(account.PoolConfig{
		MaxConcurrent:    5,
		MinQuotaFraction: 0.1,
		DefaultCooldown:  time.Minute,
		MaxCooldown:      time.Hour,
	}, nil)
}

func testSelection() config.SelectionConfig {
	sel := config.SelectionConfig{Strategy: "hybrid"}
	sel.HealthScore = config.HealthScoreConfig{
		Initial: 70, Min: 50, Max: 100,
		SuccessDelta: 1, RateLimitPenalty: 10, FailurePenalty: 20, RecoverPerHour: 2,
	}
	sel.TokenBucket = config.TokenBucketConfig{Capacity: 50, RefillPerMinute: 6}
	sel.Quota = config.QuotaConfig{LowThreshold: 0.10, CriticalThreshold: 0.05, StaleMs: 300000}
	sel.Rotation = config.RotationConfig{
		MaxSessionMessages: 40, MaxSessionTokens: 400000,
		QuotaThreshold: 0.25, QuotaMargin: 0.20,
	}
	return sel
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		strategy string
		wantName string
		wantErr  bool
	}{
		{strategy: "sticky", wantName: "sticky"},
		{strategy: "round-robin", wantName: "round-robin"},
		{strategy: "hybrid", wantName: "hybrid"},
		{strategy: "random", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			cfg.Accounts.Selection.Strategy = tt.strategy

			policy, err := NewPolicy(cfg, account.NewSessions())
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for unknown strategy")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPolicy() error = %v", err)
			}
			if policy.GetName() != tt.wantName {
				t.Errorf("GetName() = %q, want %q", policy.GetName(), tt.wantName)
			}
		})
	}
}

func TestRoundRobin_Rotates(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	pool.Add(&account.Account{Key: "b"})
	pool.Add(&account.Account{Key: "c"})

	p := NewRoundRobinPolicy()
	var order []string
	for i := 0; i < 6; i++ {
		dec := p.Select(pool, "m", account.ClassUnset, &Request{})
		if dec.Account == nil {
			t.Fatal("expected an account")
		}
		order = append(order, dec.Account.Key)
	}

	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("rotation order = %v, want %v", order, want)
		}
	}
}

func TestRoundRobin_SkipsUnusable(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	pool.Add(&account.Account{Key: "b"})
	pool.MarkRateLimited("a", account.QuotaKey("m", account.ClassUnset), 0, account.LimitTypeUser)

	p := NewRoundRobinPolicy()
	for i := 0; i < 3; i++ {
		dec := p.Select(pool, "m", account.ClassUnset, &Request{})
		if dec.Account == nil || dec.Account.Key != "b" {
			t.Fatalf("selection %d = %v, want b", i, dec.Account)
		}
	}
}

func TestSticky_PinsSession(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	pool.Add(&account.Account{Key: "b"})
	sessions := account.NewSessions()

	p := NewStickyPolicy(sessions, testSelection().Rotation, 10*time.Minute)

	sess := sessions.Track("-1", 1)
	first := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})
	if first.Account == nil {
		t.Fatal("expected an account")
	}

	// Subsequent selections stick to the pinned account.
	for i := 0; i < 4; i++ {
		sess = sessions.Track("-1", i+2)
		dec := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})
		if dec.Account == nil || dec.Account.Key != first.Account.Key {
			t.Fatalf("selection %d moved off the pinned account", i)
		}
	}
}

func TestSticky_FailsOverWhenPinnedLimited(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	pool.Add(&account.Account{Key: "b"})
	sessions := account.NewSessions()
	p := NewStickyPolicy(sessions, testSelection().Rotation, 10*time.Minute)

	sess := sessions.Track("-1", 1)
	first := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})
	pool.MarkRateLimited(first.Account.Key, account.QuotaKey("m", account.ClassUnset), 0, account.LimitTypeUser)

	sess = sessions.Track("-1", 2)
	second := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})
	if second.Account == nil || second.Account.Key == first.Account.Key {
		t.Error("selection should fail over to the other account")
	}
}

func TestSticky_WaitHintWhenAllLimited(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	sessions := account.NewSessions()
	p := NewStickyPolicy(sessions, testSelection().Rotation, 10*time.Minute)

	sess := sessions.Track("-1", 1)
	first := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})
	if first.Account == nil {
		t.Fatal("expected an account")
	}

	reset := time.Now().Add(30 * time.Second).UnixMilli()
	pool.MarkRateLimited("a", account.QuotaKey("m", account.ClassUnset), reset, account.LimitTypeUser)

	sess = sessions.Track("-1", 2)
	dec := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})
	if dec.Account != nil {
		t.Fatal("no account should be usable")
	}
	if dec.Wait <= 0 || dec.Wait > time.Minute {
		t.Errorf("wait hint = %s, want about the reset distance", dec.Wait)
	}
}

func TestSticky_RotationOnMessageCount(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	pool.Add(&account.Account{Key: "b"})
	sessions := account.NewSessions()
	rotation := testSelection().Rotation
	rotation.MaxSessionMessages = 3
	p := NewStickyPolicy(sessions, rotation, 10*time.Minute)

	sess := sessions.Track("-1", 1)
	first := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})

	sess = sessions.Track("-1", 10) // over the rotation threshold
	second := p.Select(pool, "m", account.ClassUnset, &Request{Session: sess})
	if second.Account == nil || second.Account.Key == first.Account.Key {
		t.Error("session should rotate to another account past the message threshold")
	}
}

func TestHybrid_PrefersHealthyAccount(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	pool.Add(&account.Account{Key: "b"})
	sessions := account.NewSessions()

	p := NewHybridPolicy(sessions, testSelection(), 10*time.Minute)

	// Penalize b repeatedly; a must win on health.
	for i := 0; i < 3; i++ {
		p.RecordFailure("b")
	}

	dec := p.Select(pool, "m", account.ClassUnset, &Request{})
	if dec.Account == nil || dec.Account.Key != "a" {
		t.Errorf("selection = %v, want the healthy account a", dec.Account)
	}
}

func TestHybrid_ExcludesCriticalQuota(t *testing.T) {
	pool := testPool()
	a := pool.Add(&account.Account{Key: "a"})
	pool.Add(&account.Account{Key: "b"})
	sessions := account.NewSessions()

	// Raise the critical threshold above the pool's usability floor so
	// the policy-level exclusion is what fires.
	sel := testSelection()
	sel.Quota.CriticalThreshold = 0.15
	p := NewHybridPolicy(sessions, sel, 10*time.Minute)

	// a is pool-usable (above the 0.1 floor) but policy-critical; give it
	// excellent health so only the quota exclusion can explain losing.
	a.SetQuota(&account.QuotaSnapshot{
		Models:          map[string]account.ModelQuota{"m": {RemainingFraction: 0.12, ResetTime: time.Now().Add(time.Hour)}},
		FetchedAtMillis: time.Now().UnixMilli(),
	})
	for i := 0; i < 10; i++ {
		p.RecordSuccess("a")
	}

	dec := p.Select(pool, "m", account.ClassUnset, &Request{})
	if dec.Account == nil || dec.Account.Key != "b" {
		t.Errorf("selection = %v, want b (a is quota-critical)", dec.Account)
	}
}

func TestHybrid_FallbackTierThrottles(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	sessions := account.NewSessions()
	sel := testSelection()
	p := NewHybridPolicy(sessions, sel, 10*time.Minute)

	// Exhaust a's health so only the degraded tiers admit it.
	for i := 0; i < 5; i++ {
		p.RecordFailure("a")
	}

	dec := p.Select(pool, "m", account.ClassUnset, &Request{})
	if dec.Account == nil {
		t.Fatal("degraded tiers should still yield the only account")
	}
	if dec.Wait < throttleMin || dec.Wait > throttleMax {
		t.Errorf("throttle = %s, want within [%s, %s]", dec.Wait, throttleMin, throttleMax)
	}
}

func TestHybrid_WaitWhenNothingUsable(t *testing.T) {
	pool := testPool()
	pool.Add(&account.Account{Key: "a"})
	sessions := account.NewSessions()
	p := NewHybridPolicy(sessions, testSelection(), 10*time.Minute)

	reset := time.Now().Add(20 * time.Second).UnixMilli()
	pool.MarkRateLimited("a", account.QuotaKey("m", account.ClassUnset), reset, account.LimitTypeUser)

	dec := p.Select(pool, "m", account.ClassUnset, &Request{})
	if dec.Account != nil {
		t.Fatal("no account should be usable")
	}
	if dec.Wait <= 0 {
		t.Error("wait hint expected when a reset is near")
	}
}

func TestHealthTracker_Bounds(t *testing.T) {
	h := NewHealthTracker(testSelection().HealthScore)

	if got := h.Score("a"); got != 70 {
		t.Errorf("initial score = %d, want 70", got)
	}

	for i := 0; i < 100; i++ {
		h.RecordSuccess("a")
	}
	if got := h.Score("a"); got != 100 {
		t.Errorf("score after many successes = %d, want the max 100", got)
	}

	for i := 0; i < 100; i++ {
		h.RecordFailure("a")
	}
	if got := h.Score("a"); got != 50 {
		t.Errorf("score after many failures = %d, want the min 50", got)
	}

	h.RecordRateLimit("b")
	if got := h.Score("b"); got != 60 {
		t.Errorf("score after one rate limit = %d, want 60", got)
	}
}

package account

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// PoolConfig contains the pool's tunables, derived from the accounts and
// dispatch configuration sections.
type PoolConfig struct {
	// MaxConcurrent caps in-flight requests per account.
	MaxConcurrent int

	// MinQuotaFraction excludes accounts whose snapshot shows less
	// remaining than this for the requested model.
	MinQuotaFraction float64

	// DefaultCooldown applies when the upstream gives no usable reset.
	DefaultCooldown time.Duration

	// MaxCooldown caps a server-provided reset before DefaultCooldown is
	// used instead.
	MaxCooldown time.Duration
}

// cooldownEscalationCap bounds the consecutive-failure multiplier.
const cooldownEscalationCap = 30

// dailyCooldownFloor is the minimum cooldown for daily limits.
const dailyCooldownFloor = time.Hour

// Pool holds the account list and per-account state. The pool-wide lock
// guards only the list and the round-robin cursor; per-account fields are
// guarded by each account's own mutex.
type Pool struct {
	mu       sync.RWMutex
	accounts []*Account
	byKey    map[string]*Account
	cursor   int

	cfg   PoolConfig
	store *Store
}

// NewPool creates a pool with the given configuration. store may be nil for
// tests; then persistence is skipped.
func NewPool(cfg PoolConfig, store *Store) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.MinQuotaFraction == 0 {
		cfg.MinQuotaFraction = 0.1
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = time.Minute
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = time.Hour
	}
	return &Pool{
		byKey: make(map[string]*Account),
		cfg:   cfg,
		store: store,
	}
}

// Load replaces the pool contents with accounts read from the store.
func (p *Pool) Load() error {
	if p.store == nil {
		return nil
	}
	accounts, err := p.store.Load()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = accounts
	p.byKey = make(map[string]*Account, len(accounts))
	for _, a := range accounts {
		p.byKey[a.Key] = a
	}
	p.cursor = 0
	return nil
}

// Add upserts an account by key. An existing record keeps its AddedAt and
// has its invalid flag reset; credentials and settings are replaced.
func (p *Pool) Add(data *Account) *Account {
	p.mu.Lock()
	existing, ok := p.byKey[data.Key]
	if !ok {
		acct := &Account{
			Key:              data.Key,
			RefreshToken:     data.RefreshToken,
			APIKey:           data.APIKey,
			ProjectID:        data.ProjectID,
			Enabled:          true,
			AddedAt:          time.Now(),
			SubscriptionTier: data.SubscriptionTier,
			DisabledModels:   append([]string(nil), data.DisabledModels...),
			ModelRateLimits:  make(map[string]*RateLimitState),
		}
		p.accounts = append(p.accounts, acct)
		p.byKey[acct.Key] = acct
		p.mu.Unlock()

		slog.Info("account added", "account", acct.Key)
		p.scheduleSave()
		return acct
	}
	p.mu.Unlock()

	existing.mu.Lock()
	existing.RefreshToken = data.RefreshToken
	if data.APIKey != "" {
		existing.APIKey = data.APIKey
	}
	if data.ProjectID != "" {
		existing.ProjectID = data.ProjectID
	}
	existing.Invalid = false
	existing.InvalidReason = ""
	existing.Enabled = true
	if data.DisabledModels != nil {
		existing.DisabledModels = append([]string(nil), data.DisabledModels...)
	}
	existing.mu.Unlock()

	slog.Info("account updated", "account", existing.Key)
	p.scheduleSave()
	return existing
}

// Remove deletes an account by key and adjusts the round-robin cursor.
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	idx := -1
	for i, a := range p.accounts {
		if a.Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return false
	}
	p.accounts = append(p.accounts[:idx], p.accounts[idx+1:]...)
	delete(p.byKey, key)
	if p.cursor > idx {
		p.cursor--
	}
	if len(p.accounts) > 0 {
		p.cursor %= len(p.accounts)
	} else {
		p.cursor = 0
	}
	p.mu.Unlock()

	slog.Info("account removed", "account", key)
	p.scheduleSave()
	return true
}

// Enable toggles the enabled flag.
func (p *Pool) Enable(key string, enabled bool) bool {
	acct := p.Get(key)
	if acct == nil {
		return false
	}
	acct.mu.Lock()
	acct.Enabled = enabled
	acct.mu.Unlock()

	slog.Info("account enabled flag changed", "account", key, "enabled", enabled)
	p.scheduleSave()
	return true
}

// Get returns the account with the given key, or nil.
func (p *Pool) Get(key string) *Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byKey[key]
}

// List returns a snapshot of the account list in insertion order.
func (p *Pool) List() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Account(nil), p.accounts...)
}

// Len returns the number of accounts.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}

// Borrow increments the account's in-flight counter and stamps LastUsed.
func (p *Pool) Borrow(acct *Account) {
	acct.mu.Lock()
	acct.ActiveRequests++
	acct.LastUsed = time.Now()
	acct.mu.Unlock()
	p.scheduleSave()
}

// Release decrements the in-flight counter. Releasing at zero logs a
// warning and leaves the counter at zero.
func (p *Pool) Release(acct *Account) {
	acct.mu.Lock()
	if acct.ActiveRequests <= 0 {
		acct.ActiveRequests = 0
		acct.mu.Unlock()
		slog.Warn("release on idle account", "account", acct.Key)
		return
	}
	acct.ActiveRequests--
	acct.mu.Unlock()
}

// MarkRateLimited records a limit for (key, quotaKey). resetMillis is the
// server-provided reset (0 when absent). Daily limits get a one-hour floor;
// otherwise the server reset is used when under MaxCooldown, else
// DefaultCooldown. Consecutive hits on the same quota key multiply the
// cooldown by 2^(failures-1), capped at 30x.
func (p *Pool) MarkRateLimited(key, quotaKey string, resetMillis int64, limitType string) {
	acct := p.Get(key)
	if acct == nil {
		return
	}

	now := time.Now()
	cooldown := p.cfg.DefaultCooldown
	if resetMillis > 0 {
		if server := time.UnixMilli(resetMillis).Sub(now); server > 0 && server <= p.cfg.MaxCooldown {
			cooldown = server
		}
	}
	if limitType == LimitTypeDaily && cooldown < dailyCooldownFloor {
		cooldown = dailyCooldownFloor
	}

	acct.mu.Lock()
	if acct.ModelRateLimits == nil {
		acct.ModelRateLimits = make(map[string]*RateLimitState)
	}
	state := acct.ModelRateLimits[quotaKey]
	failures := 1
	if state != nil {
		failures = state.ConsecutiveFailures + 1
	}
	multiplier := 1
	for i := 1; i < failures && multiplier < cooldownEscalationCap; i++ {
		multiplier *= 2
	}
	if multiplier > cooldownEscalationCap {
		multiplier = cooldownEscalationCap
	}
	escalated := time.Duration(multiplier) * cooldown

	acct.ModelRateLimits[quotaKey] = &RateLimitState{
		Limited:             true,
		ResetAtMillis:       now.Add(escalated).UnixMilli(),
		LimitType:           limitType,
		ConsecutiveFailures: failures,
	}
	acct.mu.Unlock()

	slog.Warn("account rate limited",
		"account", key,
		"quota_key", quotaKey,
		"cooldown", escalated.String(),
		"consecutive", failures,
		"limit_type", limitType,
	)
	p.scheduleSave()
}

// ClearRateLimit removes the limit entry and failure streak for a quota
// key, typically after a success.
func (p *Pool) ClearRateLimit(key, quotaKey string) {
	acct := p.Get(key)
	if acct == nil {
		return
	}
	acct.mu.Lock()
	_, had := acct.ModelRateLimits[quotaKey]
	delete(acct.ModelRateLimits, quotaKey)
	acct.mu.Unlock()
	if had {
		p.scheduleSave()
	}
}

// MarkInvalid permanently invalidates an account. There is no self-recovery;
// only a fresh enrollment clears the flag.
func (p *Pool) MarkInvalid(key, reason string) {
	acct := p.Get(key)
	if acct == nil {
		return
	}
	acct.mu.Lock()
	acct.Invalid = true
	acct.InvalidReason = reason
	acct.mu.Unlock()

	slog.Error("account invalidated", "account", key, "reason", reason)
	p.scheduleSave()
}

// ClearExpired sweeps rate-limit entries whose reset time is past.
func (p *Pool) ClearExpired() int {
	now := time.Now().UnixMilli()
	cleared := 0
	for _, acct := range p.List() {
		acct.mu.Lock()
		for k, state := range acct.ModelRateLimits {
			if state.ResetAtMillis <= now {
				delete(acct.ModelRateLimits, k)
				cleared++
			}
		}
		acct.mu.Unlock()
	}
	if cleared > 0 {
		slog.Debug("expired rate limits cleared", "count", cleared)
		p.scheduleSave()
	}
	return cleared
}

// ResetAllFor optimistically clears every account's limit entries for a
// model, across quota classes. The recorded reset times are upper bounds
// and often wrong, so the dispatcher forces a fresh probe when the whole
// pool is limited.
func (p *Pool) ResetAllFor(modelID string) int {
	cleared := 0
	for _, acct := range p.List() {
		acct.mu.Lock()
		for k := range acct.ModelRateLimits {
			if k == modelID || strings.HasPrefix(k, modelID+":") {
				delete(acct.ModelRateLimits, k)
				cleared++
			}
		}
		acct.mu.Unlock()
	}
	if cleared > 0 {
		slog.Warn("optimistic rate-limit reset", "model", modelID, "cleared", cleared)
		p.scheduleSave()
	}
	return cleared
}

// Usable reports whether the account can serve (modelID, class) right now:
// valid, enabled, below the concurrency cap, no active rate limit for the
// quota key, model not disabled, and quota snapshot (if present and fresh)
// above the minimum fraction or past its reset.
func (p *Pool) Usable(acct *Account, modelID string, class QuotaClass) bool {
	quotaKey := QuotaKey(modelID, class)
	now := time.Now()

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.Invalid || !acct.Enabled {
		return false
	}
	if acct.ActiveRequests >= p.cfg.MaxConcurrent {
		return false
	}
	if state, ok := acct.ModelRateLimits[quotaKey]; ok && state.Limited && state.ResetAtMillis > now.UnixMilli() {
		return false
	}
	if acct.modelDisabled(modelID) {
		return false
	}
	if acct.Quota != nil {
		if q, ok := acct.Quota.Models[modelID]; ok {
			if q.RemainingFraction < p.cfg.MinQuotaFraction && (q.ResetTime.IsZero() || q.ResetTime.After(now)) {
				return false
			}
		}
	}
	return true
}

// UsableAccounts returns the accounts usable for (modelID, class) in
// insertion order.
func (p *Pool) UsableAccounts(modelID string, class QuotaClass) []*Account {
	var usable []*Account
	for _, acct := range p.List() {
		if p.Usable(acct, modelID, class) {
			usable = append(usable, acct)
		}
	}
	return usable
}

// AllLimited reports whether every enabled, valid account holds an active
// rate limit for (modelID, class). False when the pool has no candidates at
// all, since waiting would never help.
func (p *Pool) AllLimited(modelID string, class QuotaClass) bool {
	quotaKey := QuotaKey(modelID, class)
	now := time.Now().UnixMilli()
	candidates := 0

	for _, acct := range p.List() {
		acct.mu.Lock()
		eligible := !acct.Invalid && acct.Enabled && !acct.modelDisabled(modelID)
		limited := false
		if state, ok := acct.ModelRateLimits[quotaKey]; ok {
			limited = state.Limited && state.ResetAtMillis > now
		}
		acct.mu.Unlock()

		if !eligible {
			continue
		}
		candidates++
		if !limited {
			return false
		}
	}
	return candidates > 0
}

// MinWait returns the shortest time until any account's limit for
// (modelID, class) resets. ok is false when no account holds a limit.
func (p *Pool) MinWait(modelID string, class QuotaClass) (time.Duration, bool) {
	quotaKey := QuotaKey(modelID, class)
	now := time.Now().UnixMilli()
	var best int64 = -1

	for _, acct := range p.List() {
		acct.mu.Lock()
		if state, ok := acct.ModelRateLimits[quotaKey]; ok && state.Limited && state.ResetAtMillis > now {
			remaining := state.ResetAtMillis - now
			if best < 0 || remaining < best {
				best = remaining
			}
		}
		acct.mu.Unlock()
	}
	if best < 0 {
		return 0, false
	}
	return time.Duration(best) * time.Millisecond, true
}

// NextRoundRobin advances the cursor to the next usable account, or nil.
func (p *Pool) NextRoundRobin(modelID string, class QuotaClass) *Account {
	p.mu.Lock()
	accounts := append([]*Account(nil), p.accounts...)
	start := p.cursor
	p.mu.Unlock()

	n := len(accounts)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		acct := accounts[idx]
		if p.Usable(acct, modelID, class) {
			p.mu.Lock()
			p.cursor = (idx + 1) % n
			p.mu.Unlock()
			return acct
		}
	}
	return nil
}

// Save forces a synchronous persistence flush. Used at shutdown.
func (p *Pool) Save() error {
	if p.store == nil {
		return nil
	}
	return p.store.SaveNow(p.snapshot())
}

// scheduleSave queues an asynchronous save of the current state.
func (p *Pool) scheduleSave() {
	if p.store == nil {
		return
	}
	p.store.Schedule(p.snapshot)
}

func (p *Pool) snapshot() []*Account {
	accounts := p.List()
	out := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.snapshotClone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// String implements fmt.Stringer for debug logging.
func (p *Pool) String() string {
	return fmt.Sprintf("Pool(%d accounts)", p.Len())
}

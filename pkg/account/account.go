package account

import (
	"sync"
	"time"
)

// QuotaClass qualifies independent rate-limit buckets for the same account
// and model. The upstream enforces CLI and Antigravity traffic separately.
type QuotaClass string

const (
	// ClassUnset is the bare model bucket.
	ClassUnset QuotaClass = ""
	// ClassCLI is the gemini-cli header mode bucket.
	ClassCLI QuotaClass = "cli"
	// ClassAntigravity is the antigravity header mode bucket.
	ClassAntigravity QuotaClass = "antigravity"
)

// QuotaKey builds the composite rate-limit key modelId[":"quotaClass].
func QuotaKey(modelID string, class QuotaClass) string {
	if class == ClassUnset {
		return modelID
	}
	return modelID + ":" + string(class)
}

// Subscription tier constants.
const (
	TierFree    = "free"
	TierPro     = "pro"
	TierUltra   = "ultra"
	TierUnknown = "unknown"
)

// RateLimitState is the per-quota-key limit record on an account.
type RateLimitState struct {
	// Limited is true while the cooldown is active.
	Limited bool `json:"limited"`

	// ResetAtMillis is when the cooldown expires (unix millis).
	ResetAtMillis int64 `json:"resetAtMillis"`

	// LimitType distinguishes daily limits, which carry a longer floor.
	LimitType string `json:"limitType,omitempty"`

	// ConsecutiveFailures escalates the cooldown multiplier.
	ConsecutiveFailures int `json:"consecutiveFailures,omitempty"`
}

// Limit type constants for RateLimitState.LimitType.
const (
	LimitTypeDaily    = "daily"
	LimitTypeUser     = "user"
	LimitTypeCapacity = "capacity"
)

// ModelQuota is one model's entry in a quota snapshot.
type ModelQuota struct {
	// RemainingFraction is the remaining share of the quota window, 0..1.
	RemainingFraction float64 `json:"remainingFraction"`

	// ResetTime is when the quota window resets.
	ResetTime time.Time `json:"resetTime,omitempty"`
}

// QuotaSnapshot is the per-account quota state harvested from the upstream
// metadata endpoint.
type QuotaSnapshot struct {
	// Models maps model id to remaining quota.
	Models map[string]ModelQuota `json:"models"`

	// FetchedAtMillis is when the snapshot was taken (unix millis).
	FetchedAtMillis int64 `json:"fetchedAtMillis"`
}

// Account is a process-local upstream identity. Field access goes through
// the accessor methods, which take the per-account mutex; the Pool only
// locks its own list lock for insert and remove.
type Account struct {
	mu sync.Mutex

	// Key is the stable email-like identity.
	Key string `json:"email"`

	// RefreshToken is the long-lived credential.
	RefreshToken string `json:"refreshToken,omitempty"`

	// APIKey is an alternative static credential.
	APIKey string `json:"apiKey,omitempty"`

	// ProjectID is derived lazily from the upstream and cached.
	ProjectID string `json:"projectId,omitempty"`

	// Enabled gates selection; toggled from the management surface.
	Enabled bool `json:"enabled"`

	// Invalid marks a permanently failed credential. No self-recovery.
	Invalid       bool   `json:"invalid,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`

	// AddedAt is preserved across upserts.
	AddedAt time.Time `json:"addedAt"`

	// LastUsed is updated on every borrow.
	LastUsed time.Time `json:"lastUsed,omitempty"`

	// ActiveRequests counts in-flight requests. Not persisted.
	ActiveRequests int `json:"-"`

	// ModelRateLimits maps quota keys to limit state.
	ModelRateLimits map[string]*RateLimitState `json:"modelRateLimits,omitempty"`

	// Quota is the latest quota snapshot, if any.
	Quota *QuotaSnapshot `json:"quotaSnapshot,omitempty"`

	// SubscriptionTier is free, pro, ultra, or unknown.
	SubscriptionTier string `json:"subscriptionTier,omitempty"`

	// DisabledModels lists model ids this account must not serve.
	DisabledModels []string `json:"disabledModels,omitempty"`
}

// snapshotClone returns a copy of the persistable fields for the store.
// In-flight state (ActiveRequests) is deliberately excluded.
func (a *Account) snapshotClone() *Account {
	a.mu.Lock()
	defer a.mu.Unlock()

	clone := &Account{
		Key:              a.Key,
		RefreshToken:     a.RefreshToken,
		APIKey:           a.APIKey,
		ProjectID:        a.ProjectID,
		Enabled:          a.Enabled,
		Invalid:          a.Invalid,
		InvalidReason:    a.InvalidReason,
		AddedAt:          a.AddedAt,
		LastUsed:         a.LastUsed,
		SubscriptionTier: a.SubscriptionTier,
	}
	if len(a.DisabledModels) > 0 {
		clone.DisabledModels = append([]string(nil), a.DisabledModels...)
	}
	if len(a.ModelRateLimits) > 0 {
		clone.ModelRateLimits = make(map[string]*RateLimitState, len(a.ModelRateLimits))
		for k, v := range a.ModelRateLimits {
			state := *v
			clone.ModelRateLimits[k] = &state
		}
	}
	if a.Quota != nil {
		q := &QuotaSnapshot{FetchedAtMillis: a.Quota.FetchedAtMillis}
		if len(a.Quota.Models) > 0 {
			q.Models = make(map[string]ModelQuota, len(a.Quota.Models))
			for k, v := range a.Quota.Models {
				q.Models[k] = v
			}
		}
		clone.Quota = q
	}
	return clone
}

// IsInvalid reports whether the account is permanently invalid.
func (a *Account) IsInvalid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Invalid
}

// IsEnabled reports whether the account is enabled.
func (a *Account) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Enabled
}

// Active returns the in-flight request count.
func (a *Account) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ActiveRequests
}

// LastUsedAt returns the last borrow time.
func (a *Account) LastUsedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.LastUsed
}

// Project returns the cached project id.
func (a *Account) Project() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ProjectID
}

// SetProject caches a derived project id.
func (a *Account) SetProject(projectID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ProjectID = projectID
}

// Credentials returns the refresh token and API key.
func (a *Account) Credentials() (refreshToken, apiKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.RefreshToken, a.APIKey
}

// Tier returns the subscription tier, defaulting to unknown.
func (a *Account) Tier() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SubscriptionTier == "" {
		return TierUnknown
	}
	return a.SubscriptionTier
}

// SetTier records the discovered subscription tier.
func (a *Account) SetTier(tier string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SubscriptionTier = tier
}

// SetQuota replaces the quota snapshot.
func (a *Account) SetQuota(q *QuotaSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Quota = q
}

// QuotaFor returns the snapshot entry for a model. ok is false when no
// snapshot or no entry exists.
func (a *Account) QuotaFor(modelID string) (ModelQuota, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Quota == nil || a.Quota.Models == nil {
		return ModelQuota{}, false
	}
	q, ok := a.Quota.Models[modelID]
	return q, ok
}

// QuotaFetchedAt returns when the snapshot was taken, zero if none.
func (a *Account) QuotaFetchedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Quota == nil || a.Quota.FetchedAtMillis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(a.Quota.FetchedAtMillis)
}

// RateLimit returns a copy of the limit state for a quota key.
func (a *Account) RateLimit(quotaKey string) (RateLimitState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.ModelRateLimits[quotaKey]
	if !ok {
		return RateLimitState{}, false
	}
	return *state, true
}

// modelDisabled reports whether modelID is in the disabled set.
// Caller must hold a.mu.
func (a *Account) modelDisabled(modelID string) bool {
	for _, m := range a.DisabledModels {
		if m == modelID {
			return true
		}
	}
	return false
}

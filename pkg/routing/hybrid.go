package routing

import (
	"log/slog"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/ratelimit"
)

// HybridPolicy scores every usable candidate and picks the best. The score
// blends account health, pacing-bucket headroom, quota snapshot state, and
// time since last use:
//
//	score = 2*health + 5*(tokens/capacity)*100 + 3*quotaScore + 0.1*idleSeconds
//
// Candidates with critically low fresh quota are excluded. When the normal
// candidate set is empty the policy relaxes constraints in order: ignore
// quota, ignore health, ignore pacing tokens; the last two tiers carry a
// small throttle so a degraded pool is not hammered.
//
// Sessions still pin: a session pinned to a usable, non-rotating account
// keeps it, so prompt caching behaves as under the sticky policy.
type HybridPolicy struct {
	sessions *account.Sessions
	cfg      config.SelectionConfig
	health   *HealthTracker
	maxWait  time.Duration

	mu      sync.Mutex
	buckets map[string]*ratelimit.TokenBucket
}

// Candidate tiers, in relaxation order.
const (
	tierNormal = iota
	tierIgnoreQuota
	tierIgnoreHealth
	tierIgnoreTokens
)

// NewHybridPolicy creates a hybrid policy.
func NewHybridPolicy(sessions *account.Sessions, cfg config.SelectionConfig, maxWait time.Duration) *HybridPolicy {
	return &HybridPolicy{
		sessions: sessions,
		cfg:      cfg,
		health:   NewHealthTracker(cfg.HealthScore),
		maxWait:  maxWait,
		buckets:  make(map[string]*ratelimit.TokenBucket),
	}
}

// Select picks the highest-scoring usable account.
func (p *HybridPolicy) Select(pool *account.Pool, modelID string, class account.QuotaClass, req *Request) Decision {
	if req != nil && req.PinnedAccount != "" {
		if acct := pool.Get(req.PinnedAccount); acct != nil && pool.Usable(acct, modelID, class) {
			return Decision{Account: acct}
		}
	}

	// Session affinity first, with the shared rotation triggers.
	if req != nil && req.Session != nil && req.Session.AccountKey != "" {
		pinnedKey := req.Session.AccountKey
		if sessionShouldRotate(req.Session, pool, pinnedKey, modelID, p.cfg.Rotation) {
			slog.Debug("rotating session off pinned account",
				"session_id", req.Session.ID,
				"account", pinnedKey,
			)
			p.sessions.Unpin(req.Session.ID)
		} else if acct := pool.Get(pinnedKey); acct != nil && pool.Usable(acct, modelID, class) && !p.quotaCritical(acct, modelID) {
			p.bucket(acct.Key).Take(1)
			return Decision{Account: acct}
		}
	}

	usable := pool.UsableAccounts(modelID, class)
	if len(usable) == 0 {
		if wait, ok := pool.MinWait(modelID, class); ok && wait <= p.maxWait {
			return Decision{Wait: wait}
		}
		return Decision{}
	}

	for tier := tierNormal; tier <= tierIgnoreTokens; tier++ {
		best := p.pickBest(usable, modelID, tier)
		if best == nil {
			continue
		}
		p.bucket(best.Key).Take(1)
		if req != nil && req.Session != nil {
			p.sessions.Pin(req.Session.ID, best.Key)
		}

		var throttle time.Duration
		if tier >= tierIgnoreHealth {
			throttle = throttleMin
			if tier == tierIgnoreTokens {
				throttle = throttleMax
			}
			slog.Debug("hybrid selection degraded",
				"account", best.Key,
				"tier", tier,
				"throttle", throttle.String(),
			)
		}
		return Decision{Account: best, Wait: throttle}
	}

	// Unreachable: tierIgnoreTokens accepts every usable account.
	return Decision{}
}

// pickBest returns the highest-scoring account admitted by the tier.
func (p *HybridPolicy) pickBest(candidates []*account.Account, modelID string, tier int) *account.Account {
	var best *account.Account
	var bestScore float64

	for _, acct := range candidates {
		if tier < tierIgnoreQuota && p.quotaCritical(acct, modelID) {
			continue
		}
		health := p.health.Score(acct.Key)
		if tier < tierIgnoreHealth && health <= p.cfg.HealthScore.Min {
			continue
		}
		bucket := p.bucket(acct.Key)
		if tier < tierIgnoreTokens && bucket.Remaining() <= 0 {
			continue
		}

		score := p.score(acct, modelID, health, bucket)
		if best == nil || score > bestScore {
			best = acct
			bestScore = score
		}
	}
	return best
}

// score computes the blended selection score.
func (p *HybridPolicy) score(acct *account.Account, modelID string, health int, bucket *ratelimit.TokenBucket) float64 {
	tokenShare := float64(bucket.Remaining()) / float64(bucket.Capacity())

	score := 2*float64(health) + 5*tokenShare*100 + 3*p.quotaScore(acct, modelID)

	if last := acct.LastUsedAt(); !last.IsZero() {
		score += 0.1 * time.Since(last).Seconds()
	} else {
		// Never used: treat as long idle so fresh accounts get traffic.
		score += 0.1 * 3600
	}
	return score
}

// quotaScore maps the snapshot's remaining fraction to 0..100, with a
// middling score for unknown quota and reduced confidence for stale data.
func (p *HybridPolicy) quotaScore(acct *account.Account, modelID string) float64 {
	q, ok := acct.QuotaFor(modelID)
	if !ok {
		return 50
	}
	score := q.RemainingFraction * 100
	if !p.quotaFresh(acct) {
		score *= 0.9
	}
	return score
}

// quotaCritical reports whether fresh snapshot data shows the account below
// the critical threshold for the model. Unknown or stale quota is not
// critical.
func (p *HybridPolicy) quotaCritical(acct *account.Account, modelID string) bool {
	q, ok := acct.QuotaFor(modelID)
	if !ok {
		return false
	}
	if !p.quotaFresh(acct) {
		return false
	}
	return q.RemainingFraction <= p.cfg.Quota.CriticalThreshold
}

func (p *HybridPolicy) quotaFresh(acct *account.Account) bool {
	fetched := acct.QuotaFetchedAt()
	if fetched.IsZero() {
		return false
	}
	return time.Since(fetched) < time.Duration(p.cfg.Quota.StaleMs)*time.Millisecond
}

// bucket returns the account's pacing bucket, creating it on first use.
func (p *HybridPolicy) bucket(accountKey string) *ratelimit.TokenBucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[accountKey]
	if !ok {
		b = ratelimit.NewTokenBucket(int64(p.cfg.TokenBucket.Capacity), p.cfg.TokenBucket.RefillPerMinute/60)
		p.buckets[accountKey] = b
	}
	return b
}

// RecordSuccess implements OutcomeRecorder.
func (p *HybridPolicy) RecordSuccess(accountKey string) {
	p.health.RecordSuccess(accountKey)
}

// RecordRateLimit implements OutcomeRecorder.
func (p *HybridPolicy) RecordRateLimit(accountKey string) {
	p.health.RecordRateLimit(accountKey)
}

// RecordFailure implements OutcomeRecorder.
func (p *HybridPolicy) RecordFailure(accountKey string) {
	p.health.RecordFailure(accountKey)
}

// GetName returns the policy name.
func (p *HybridPolicy) GetName() string {
	return "hybrid"
}

var (
	_ Policy          = (*HybridPolicy)(nil)
	_ OutcomeRecorder = (*HybridPolicy)(nil)
)

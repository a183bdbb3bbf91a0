package routing

import (
	"log/slog"
	"time"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
)

// StickyPolicy pins each session to one account for as long as the session
// continues, maximizing upstream prompt-cache hits. When the pinned account
// is unusable it advances the pool's round-robin cursor; when nothing is
// usable but the pinned account's limit resets soon, it asks the dispatcher
// to wait instead of failing over.
type StickyPolicy struct {
	sessions *account.Sessions
	rotation config.RotationConfig

	// maxWait bounds the wait the policy will suggest.
	maxWait time.Duration
}

// NewStickyPolicy creates a sticky policy over the shared session tracker.
func NewStickyPolicy(sessions *account.Sessions, rotation config.RotationConfig, maxWait time.Duration) *StickyPolicy {
	return &StickyPolicy{
		sessions: sessions,
		rotation: rotation,
		maxWait:  maxWait,
	}
}

// Select returns the pinned account when it is still usable, otherwise the
// next usable account by rotation.
func (p *StickyPolicy) Select(pool *account.Pool, modelID string, class account.QuotaClass, req *Request) Decision {
	if req != nil && req.PinnedAccount != "" {
		if acct := pool.Get(req.PinnedAccount); acct != nil && pool.Usable(acct, modelID, class) {
			return Decision{Account: acct}
		}
	}

	var pinnedKey string
	if req != nil && req.Session != nil {
		pinnedKey = req.Session.AccountKey

		if pinnedKey != "" && sessionShouldRotate(req.Session, pool, pinnedKey, modelID, p.rotation) {
			slog.Debug("rotating session off pinned account",
				"session_id", req.Session.ID,
				"account", pinnedKey,
			)
			p.sessions.Unpin(req.Session.ID)
			pinnedKey = ""
		}
	}

	if pinnedKey != "" {
		if acct := pool.Get(pinnedKey); acct != nil && pool.Usable(acct, modelID, class) {
			return Decision{Account: acct}
		}
	}

	if acct := pool.NextRoundRobin(modelID, class); acct != nil {
		if req != nil && req.Session != nil {
			p.sessions.Pin(req.Session.ID, acct.Key)
		}
		return Decision{Account: acct}
	}

	// Nothing usable. If the pinned account's limit resets within the
	// short-wait threshold, waiting beats failing the request.
	if pinnedKey != "" {
		if acct := pool.Get(pinnedKey); acct != nil {
			if state, ok := acct.RateLimit(account.QuotaKey(modelID, class)); ok && state.Limited {
				wait := time.Until(time.UnixMilli(state.ResetAtMillis))
				if wait > 0 && wait <= p.maxWait {
					return Decision{Wait: wait}
				}
			}
		}
	}
	if wait, ok := pool.MinWait(modelID, class); ok && wait <= p.maxWait {
		return Decision{Wait: wait}
	}
	return Decision{}
}

// GetName returns the policy name.
func (p *StickyPolicy) GetName() string {
	return "sticky"
}

var _ Policy = (*StickyPolicy)(nil)

// sessionShouldRotate evaluates the rotation triggers shared by the sticky
// and hybrid policies: message count, token consumption, or the pinned
// account's quota dropping well below a better alternative.
func sessionShouldRotate(sess *account.Session, pool *account.Pool, pinnedKey, modelID string, cfg config.RotationConfig) bool {
	if cfg.MaxSessionMessages > 0 && sess.MessageCount > cfg.MaxSessionMessages {
		return true
	}
	if cfg.MaxSessionTokens > 0 && sess.TokensConsumed > cfg.MaxSessionTokens {
		return true
	}

	pinned := pool.Get(pinnedKey)
	if pinned == nil {
		return true
	}
	q, ok := pinned.QuotaFor(modelID)
	if !ok || q.RemainingFraction >= cfg.QuotaThreshold {
		return false
	}
	for _, other := range pool.List() {
		if other.Key == pinnedKey {
			continue
		}
		if oq, ok := other.QuotaFor(modelID); ok && oq.RemainingFraction >= q.RemainingFraction+cfg.QuotaMargin {
			return true
		}
	}
	return false
}

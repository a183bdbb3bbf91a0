package routing

import (
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/config"
)

// HealthTracker keeps a per-account health integer for the hybrid policy.
// The score starts at the configured initial value, moves on request
// outcomes, recovers passively over time, and is clamped to [Min, Max].
type HealthTracker struct {
	cfg config.HealthScoreConfig

	mu     sync.Mutex
	scores map[string]*healthState
}

type healthState struct {
	score     int
	updatedAt time.Time
}

// NewHealthTracker creates a tracker with the given tuning.
func NewHealthTracker(cfg config.HealthScoreConfig) *HealthTracker {
	return &HealthTracker{
		cfg:    cfg,
		scores: make(map[string]*healthState),
	}
}

// Score returns the current health for an account, applying passive
// recovery since the last update.
func (h *HealthTracker) Score(accountKey string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scoreLocked(accountKey)
}

func (h *HealthTracker) scoreLocked(accountKey string) int {
	state, ok := h.scores[accountKey]
	if !ok {
		state = &healthState{score: h.cfg.Initial, updatedAt: time.Now()}
		h.scores[accountKey] = state
		return state.score
	}

	// Passive recovery accrues per full hour since the last update.
	hours := int(time.Since(state.updatedAt).Hours())
	if hours > 0 && h.cfg.RecoverPerHour > 0 {
		state.score = h.clamp(state.score + hours*h.cfg.RecoverPerHour)
		state.updatedAt = state.updatedAt.Add(time.Duration(hours) * time.Hour)
	}
	return state.score
}

// RecordSuccess bumps the score after a successful request.
func (h *HealthTracker) RecordSuccess(accountKey string) {
	h.adjust(accountKey, h.cfg.SuccessDelta)
}

// RecordRateLimit penalizes a rate-limit hit.
func (h *HealthTracker) RecordRateLimit(accountKey string) {
	h.adjust(accountKey, -h.cfg.RateLimitPenalty)
}

// RecordFailure penalizes a non-rate-limit failure.
func (h *HealthTracker) RecordFailure(accountKey string) {
	h.adjust(accountKey, -h.cfg.FailurePenalty)
}

func (h *HealthTracker) adjust(accountKey string, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.scoreLocked(accountKey)
	state := h.scores[accountKey]
	state.score = h.clamp(current + delta)
	state.updatedAt = time.Now()
}

func (h *HealthTracker) clamp(score int) int {
	if score < h.cfg.Min {
		return h.cfg.Min
	}
	if score > h.cfg.Max {
		return h.cfg.Max
	}
	return score
}

package routing

import (
	"time"

	"mercator-hq/ganymede/pkg/account"
)

// RoundRobinPolicy distributes requests evenly across usable accounts. It
// is stateless across sessions; the cursor lives in the pool so removals
// keep the rotation stable.
type RoundRobinPolicy struct{}

// NewRoundRobinPolicy creates a round-robin policy.
func NewRoundRobinPolicy() *RoundRobinPolicy {
	return &RoundRobinPolicy{}
}

// Select advances the pool cursor to the next usable account.
func (p *RoundRobinPolicy) Select(pool *account.Pool, modelID string, class account.QuotaClass, _ *Request) Decision {
	if acct := pool.NextRoundRobin(modelID, class); acct != nil {
		return Decision{Account: acct}
	}
	if wait, ok := pool.MinWait(modelID, class); ok {
		return Decision{Wait: wait}
	}
	return Decision{}
}

// GetName returns the policy name.
func (p *RoundRobinPolicy) GetName() string {
	return "round-robin"
}

var _ Policy = (*RoundRobinPolicy)(nil)

// shortThrottle is the degraded-tier pacing delay band shared by policies.
const (
	throttleMin = 250 * time.Millisecond
	throttleMax = 500 * time.Millisecond
)

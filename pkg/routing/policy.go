package routing

import (
	"fmt"
	"time"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
)

// Decision is the outcome of one selection call.
type Decision struct {
	// Account is the chosen account, or nil when none is usable.
	Account *account.Account

	// Wait suggests how long the dispatcher should wait. With a nil
	// Account it is the time until the best candidate's limit resets
	// (zero when waiting would not help). With a non-nil Account it is a
	// small throttle applied when the policy fell back to a degraded
	// candidate tier.
	Wait time.Duration
}

// Request carries the selection inputs for one dispatch attempt.
type Request struct {
	// RequestID is the client request id, for logging.
	RequestID string

	// Session is the tracked session, nil for sessionless requests.
	Session *account.Session

	// PinnedAccount is the account key requested by model mapping, if any.
	PinnedAccount string
}

// Policy selects an account for a request. Implementations must be
// thread-safe; selections run concurrently.
type Policy interface {
	// Select chooses an account usable for (modelID, class), or reports
	// how long to wait for one.
	Select(pool *account.Pool, modelID string, class account.QuotaClass, req *Request) Decision

	// GetName returns the policy name for logging and statistics.
	GetName() string
}

// OutcomeRecorder receives per-account request outcomes. Policies that keep
// health state implement it; the dispatcher calls it after every attempt.
type OutcomeRecorder interface {
	RecordSuccess(accountKey string)
	RecordRateLimit(accountKey string)
	RecordFailure(accountKey string)
}

// NewPolicy builds the configured selection policy.
func NewPolicy(cfg *config.Config, sessions *account.Sessions) (Policy, error) {
	sel := cfg.Accounts.Selection
	maxWait := time.Duration(cfg.Dispatch.MaxWaitBeforeErrorMs) * time.Millisecond

	switch sel.Strategy {
	case "round-robin":
		return NewRoundRobinPolicy(), nil
	case "sticky":
		return NewStickyPolicy(sessions, sel.Rotation, maxWait), nil
	case "hybrid":
		return NewHybridPolicy(sessions, sel, maxWait), nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", sel.Strategy)
	}
}
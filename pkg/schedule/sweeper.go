package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/sigcache"
	"mercator-hq/ganymede/pkg/upstream"
	"mercator-hq/ganymede/pkg/usage"
)

// Sweeper runs the periodic maintenance jobs on cron schedules: the
// signature-cache TTL sweep, session eviction, expired rate-limit
// clearing, usage pruning, and lazy quota refresh.
type Sweeper struct {
	pool     *account.Pool
	sessions *account.Sessions
	cache    *sigcache.Cache
	history  *usage.History
	rlog     *usage.RequestLog
	client   *upstream.Client

	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// Job schedules.
const (
	// sweepSchedule runs the cache and session sweeps every five minutes.
	sweepSchedule = "*/5 * * * *"

	// pruneSchedule prunes usage history and the request log hourly.
	pruneSchedule = "14 * * * *"

	// quotaSchedule refreshes quota snapshots.
	quotaSchedule = "*/10 * * * *"

	// requestLogRetention bounds the sqlite request log.
	requestLogRetention = 30 * 24 * time.Hour
)

// NewSweeper creates a sweeper. rlog and client may be nil; their jobs are
// then skipped.
func NewSweeper(pool *account.Pool, sessions *account.Sessions, cache *sigcache.Cache, history *usage.History, rlog *usage.RequestLog, client *upstream.Client) *Sweeper {
	return &Sweeper{
		pool:     pool,
		sessions: sessions,
		cache:    cache,
		history:  history,
		rlog:     rlog,
		client:   client,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "schedule.sweeper"),
	}
}

// Start registers the jobs and starts the cron runner. The runner stops
// when the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	if _, err := s.cron.AddFunc(sweepSchedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(pruneSchedule, func() { s.runPrune(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule prune: %w", err)
	}
	if s.client != nil {
		if _, err := s.cron.AddFunc(quotaSchedule, func() { s.runQuotaRefresh(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule quota refresh: %w", err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("sweeper started",
		"sweep", sweepSchedule,
		"prune", pruneSchedule,
		"quota", quotaSchedule,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the cron runner.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) runSweep() {
	expired := s.cache.Sweep()
	sessions := s.sessions.Sweep()
	limits := s.pool.ClearExpired()
	s.logger.Debug("sweep complete",
		"signatures_expired", expired,
		"sessions_evicted", sessions,
		"limits_cleared", limits,
	)
}

func (s *Sweeper) runPrune(ctx context.Context) {
	removed := s.history.Prune()
	if s.rlog != nil {
		deleted, err := s.rlog.Prune(ctx, requestLogRetention)
		if err != nil {
			s.logger.Warn("request log prune failed", "error", err)
		} else if deleted > 0 {
			s.logger.Debug("request log pruned", "deleted", deleted)
		}
	}
	if removed > 0 {
		s.logger.Debug("usage history pruned", "buckets", removed)
	}
}

// runQuotaRefresh refreshes quota snapshots for accounts whose data is
// stale, one account per run to spread metadata traffic.
func (s *Sweeper) runQuotaRefresh(ctx context.Context) {
	for _, acct := range s.pool.List() {
		if acct.IsInvalid() || !acct.IsEnabled() {
			continue
		}
		fetched := acct.QuotaFetchedAt()
		if !fetched.IsZero() && time.Since(fetched) < 10*time.Minute {
			continue
		}
		refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := s.client.FetchQuota(refreshCtx, acct)
		cancel()
		if err != nil {
			s.logger.Debug("quota refresh failed", "account", acct.Key, "error", err)
		}
		return
	}
}

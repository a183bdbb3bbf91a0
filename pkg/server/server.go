// Package server assembles the proxy and runs its HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/dispatch"
	"mercator-hq/ganymede/pkg/proxy/handlers"
	"mercator-hq/ganymede/pkg/proxy/middleware"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/schedule"
	"mercator-hq/ganymede/pkg/sigcache"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/translator"
	"mercator-hq/ganymede/pkg/upstream"
	"mercator-hq/ganymede/pkg/usage"
)

// AppState is the wired application: configuration, pool, caches, and the
// dispatcher, constructed once at startup and shared by every request.
type AppState struct {
	Config     *config.Config
	Pool       *account.Pool
	Sessions   *account.Sessions
	Cache      *sigcache.Cache
	History    *usage.History
	RequestLog *usage.RequestLog
	Client     *upstream.Client
	Policy     routing.Policy
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
}

// usageSink fans dispatch outcomes out to the history and request log.
type usageSink struct {
	history *usage.History
	rlog    *usage.RequestLog
}

// Record implements dispatch.UsageSink.
func (s *usageSink) Record(outcome dispatch.RequestOutcome) {
	if outcome.Status == "success" {
		s.history.Increment(outcome.Model)
	}
	if s.rlog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rlog.Insert(ctx, &usage.RequestRecord{
		RequestID:    outcome.RequestID,
		Model:        outcome.Model,
		Account:      outcome.Account,
		Status:       outcome.Status,
		ErrorKind:    outcome.ErrorKind,
		Attempts:     outcome.Attempts,
		InputTokens:  outcome.Usage.InputTokens,
		OutputTokens: outcome.Usage.OutputTokens,
		CachedTokens: outcome.Usage.CacheReadInputTokens,
		DurationMs:   outcome.Duration.Milliseconds(),
	}); err != nil {
		slog.Warn("request log insert failed", "error", err)
	}
}

// NewAppState wires the application from configuration.
func NewAppState(cfg *config.Config) (*AppState, error) {
	pool := account.NewPool(account.PoolConfig{
		MaxConcurrent:    cfg.Accounts.MaxConcurrentRequests,
		MinQuotaFraction: cfg.Accounts.MinQuotaFraction,
		DefaultCooldown:  time.Duration(cfg.Dispatch.DefaultCooldownMs) * time.Millisecond,
		MaxCooldown:      time.Duration(cfg.Dispatch.MaxCooldownMs) * time.Millisecond,
	}, account.NewStore(cfg.Storage.AccountsFile))
	if err := pool.Load(); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	sessions := account.NewSessions()

	cache := sigcache.New(cfg.Storage.SignatureCacheFile)
	if err := cache.Load(); err != nil {
		return nil, fmt.Errorf("failed to load signature cache: %w", err)
	}

	history := usage.NewHistory(cfg.Storage.UsageHistoryFile)
	if err := history.Load(); err != nil {
		return nil, fmt.Errorf("failed to load usage history: %w", err)
	}

	rlog, err := usage.OpenRequestLog(cfg.Storage.RequestLogPath, cfg.Storage.RequestLogDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to open request log: %w", err)
	}

	policy, err := routing.NewPolicy(cfg, sessions)
	if err != nil {
		return nil, err
	}

	client := upstream.NewClient(cfg.Upstream)
	trans := translator.New(cache, translator.Options{
		MaxContextTokens:      cfg.Dispatch.MaxContextTokens,
		DefaultThinkingLevel:  cfg.Dispatch.DefaultThinkingLevel,
		DefaultThinkingBudget: cfg.Dispatch.DefaultThinkingBudget,
	})

	var m *metrics.Metrics
	if cfg.Telemetry.MetricsEnabled() {
		m = metrics.New()
	}

	dispatcher := dispatch.New(cfg, pool, sessions, policy, client, trans, cache, m,
		&usageSink{history: history, rlog: rlog})

	return &AppState{
		Config:     cfg,
		Pool:       pool,
		Sessions:   sessions,
		Cache:      cache,
		History:    history,
		RequestLog: rlog,
		Client:     client,
		Policy:     policy,
		Dispatcher: dispatcher,
		Metrics:    m,
	}, nil
}

// Server is the HTTP proxy server.
type Server struct {
	state      *AppState
	httpServer *http.Server

	mu        sync.Mutex
	isRunning bool
}

// NewServer creates a server over wired application state.
func NewServer(state *AppState) *Server {
	return &Server{state: state}
}

// Handler returns the configured HTTP handler, for the server itself and
// for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	cfg := s.state.Config

	mux.Handle("/v1/messages", handlers.NewMessagesHandler(s.state.Dispatcher))
	mux.HandleFunc("/v1/messages/count_tokens", handlers.CountTokensHandler)
	mux.Handle("/v1/chat/completions", handlers.NewChatHandler(s.state.Dispatcher))
	mux.Handle("/v1/models", handlers.NewModelsHandler(s.state.Dispatcher))
	mux.Handle("/health", handlers.NewHealthHandler(s.state.Pool, s.state.Sessions))
	if s.state.Metrics != nil {
		mux.Handle("/metrics", s.state.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = middleware.CORSMiddleware(&cfg.Server)(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)
	return handler
}

// Start runs the server and its background jobs, blocking until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	cfg := s.state.Config

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	sweeper := schedule.NewSweeper(s.state.Pool, s.state.Sessions, s.state.Cache,
		s.state.History, s.state.RequestLog, s.state.Client)
	if err := sweeper.Start(jobCtx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting proxy server",
			"address", cfg.Server.ListenAddress,
			"strategy", s.state.Policy.GetName(),
			"accounts", s.state.Pool.Len(),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown stops the HTTP server and flushes persisted state.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("initiating graceful shutdown", "timeout", s.state.Config.Server.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, s.state.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during server shutdown", "error", err)
			firstErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	if err := s.state.Pool.Save(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.state.Cache.SaveNow(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.state.History.SaveNow(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.state.RequestLog != nil {
		if err := s.state.RequestLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	slog.Info("proxy server stopped")
	return firstErr
}

package config

import (
	"path/filepath"
	"time"
)

// Default values applied to any field left zero in the loaded file.
const (
	DefaultListenAddress   = "127.0.0.1:8085"
	DefaultReadTimeout     = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultMaxRetries           = 3
	DefaultRetryBaseMs          = 1000
	DefaultRetryMaxMs           = 16000
	DefaultCooldownMs           = 60000
	DefaultMaxCooldownMs        = 3600000
	DefaultMaxWaitBeforeErrorMs = 600000

	DefaultMaxConcurrentRequests = 5
	DefaultMinQuotaFraction      = 0.1
	DefaultStrategy              = "hybrid"

	DefaultHealthInitial          = 70
	DefaultHealthMin              = 50
	DefaultHealthMax              = 100
	DefaultHealthSuccessDelta     = 1
	DefaultHealthRateLimitPenalty = 10
	DefaultHealthFailurePenalty   = 20
	DefaultHealthRecoverPerHour   = 2

	DefaultBucketCapacity        = 50
	DefaultBucketRefillPerMinute = 6.0

	DefaultQuotaLowThreshold      = 0.10
	DefaultQuotaCriticalThreshold = 0.05
	DefaultQuotaStaleMs           = 300000

	DefaultMaxSessionMessages     = 40
	DefaultMaxSessionTokens       = 400000
	DefaultRotationQuotaThreshold = 0.25
	DefaultRotationQuotaMargin    = 0.20

	DefaultHeaderMode      = "antigravity"
	DefaultUpstreamTimeout = 4 * time.Minute

	DefaultDataDir          = "./data"
	DefaultRequestLogDriver = "sqlite"
)

// ApplyDefaults fills zero-valued fields with defaults. It is called by
// LoadConfig after parsing and before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	applyCORSDefaults(&cfg.Server.CORS)

	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = DefaultMaxRetries
	}
	if cfg.Dispatch.RetryBaseMs == 0 {
		cfg.Dispatch.RetryBaseMs = DefaultRetryBaseMs
	}
	if cfg.Dispatch.RetryMaxMs == 0 {
		cfg.Dispatch.RetryMaxMs = DefaultRetryMaxMs
	}
	if cfg.Dispatch.DefaultCooldownMs == 0 {
		cfg.Dispatch.DefaultCooldownMs = DefaultCooldownMs
	}
	if cfg.Dispatch.MaxCooldownMs == 0 {
		cfg.Dispatch.MaxCooldownMs = DefaultMaxCooldownMs
	}
	if cfg.Dispatch.MaxWaitBeforeErrorMs == 0 {
		cfg.Dispatch.MaxWaitBeforeErrorMs = DefaultMaxWaitBeforeErrorMs
	}

	if cfg.Accounts.MaxConcurrentRequests == 0 {
		cfg.Accounts.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if cfg.Accounts.MinQuotaFraction == 0 {
		cfg.Accounts.MinQuotaFraction = DefaultMinQuotaFraction
	}
	applySelectionDefaults(&cfg.Accounts.Selection)

	if cfg.Upstream.HeaderMode == "" {
		cfg.Upstream.HeaderMode = DefaultHeaderMode
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}

	applyStorageDefaults(&cfg.Storage)

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "text"
	}
}

func applyCORSDefaults(cors *CORSConfig) {
	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID", "anthropic-version", "x-api-key"}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = 3600
	}
}

func applySelectionDefaults(sel *SelectionConfig) {
	if sel.Strategy == "" {
		sel.Strategy = DefaultStrategy
	}

	hs := &sel.HealthScore
	if hs.Initial == 0 {
		hs.Initial = DefaultHealthInitial
	}
	if hs.Min == 0 {
		hs.Min = DefaultHealthMin
	}
	if hs.Max == 0 {
		hs.Max = DefaultHealthMax
	}
	if hs.SuccessDelta == 0 {
		hs.SuccessDelta = DefaultHealthSuccessDelta
	}
	if hs.RateLimitPenalty == 0 {
		hs.RateLimitPenalty = DefaultHealthRateLimitPenalty
	}
	if hs.FailurePenalty == 0 {
		hs.FailurePenalty = DefaultHealthFailurePenalty
	}
	if hs.RecoverPerHour == 0 {
		hs.RecoverPerHour = DefaultHealthRecoverPerHour
	}

	tb := &sel.TokenBucket
	if tb.Capacity == 0 {
		tb.Capacity = DefaultBucketCapacity
	}
	if tb.RefillPerMinute == 0 {
		tb.RefillPerMinute = DefaultBucketRefillPerMinute
	}

	q := &sel.Quota
	if q.LowThreshold == 0 {
		q.LowThreshold = DefaultQuotaLowThreshold
	}
	if q.CriticalThreshold == 0 {
		q.CriticalThreshold = DefaultQuotaCriticalThreshold
	}
	if q.StaleMs == 0 {
		q.StaleMs = DefaultQuotaStaleMs
	}

	r := &sel.Rotation
	if r.MaxSessionMessages == 0 {
		r.MaxSessionMessages = DefaultMaxSessionMessages
	}
	if r.MaxSessionTokens == 0 {
		r.MaxSessionTokens = DefaultMaxSessionTokens
	}
	if r.QuotaThreshold == 0 {
		r.QuotaThreshold = DefaultRotationQuotaThreshold
	}
	if r.QuotaMargin == 0 {
		r.QuotaMargin = DefaultRotationQuotaMargin
	}
}

func applyStorageDefaults(st *StorageConfig) {
	if st.DataDir == "" {
		st.DataDir = DefaultDataDir
	}
	if st.AccountsFile == "" {
		st.AccountsFile = filepath.Join(st.DataDir, "accounts.json")
	}
	if st.SignatureCacheFile == "" {
		st.SignatureCacheFile = filepath.Join(st.DataDir, "signature-cache.json")
	}
	if st.UsageHistoryFile == "" {
		st.UsageHistoryFile = filepath.Join(st.DataDir, "usage-history.json")
	}
	if st.RequestLogPath == "" {
		st.RequestLogPath = filepath.Join(st.DataDir, "request-log.db")
	}
	if st.RequestLogDriver == "" {
		st.RequestLogDriver = DefaultRequestLogDriver
	}
}

package config

import "time"

// Config is the root configuration for Ganymede. It is read from a JSON or
// YAML file at boot, overridden by GANYMEDE_* environment variables, and may
// be hot-reloaded while the server runs.
type Config struct {
	// Server contains HTTP server settings for the client-facing surface.
	Server ServerConfig `yaml:"server"`

	// Dispatch contains the retry loop, backoff, and wait settings.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Accounts contains the account pool and selection policy settings.
	Accounts AccountsConfig `yaml:"accounts"`

	// Upstream contains upstream endpoint and header-mode settings.
	Upstream UpstreamConfig `yaml:"upstream"`

	// ModelMapping maps requested model ids to per-model overrides.
	// Keys are requested model ids.
	ModelMapping map[string]ModelMapping `yaml:"modelMapping"`

	// Fallback maps a model id to the next-best model tried when every
	// account is exhausted for the requested one. Cycles are rejected at
	// startup.
	Fallback map[string]string `yaml:"fallback"`

	// Storage contains paths for persisted state.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8085"
	ListenAddress string `yaml:"listenAddress"`

	// ReadTimeout bounds reading of the entire request.
	// Default: 60s
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// WriteTimeout bounds response writes. Zero keeps streams unbounded.
	// Default: 0
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// IdleTimeout bounds keep-alive idle connections.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// CORS contains cross-origin settings for the management UI.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted. Nil means true.
	Enabled *bool `yaml:"enabled"`

	// AllowedOrigins lists allowed origins; ["*"] allows all.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// AllowedMethods lists allowed HTTP methods.
	AllowedMethods []string `yaml:"allowedMethods"`

	// AllowedHeaders lists allowed request headers.
	AllowedHeaders []string `yaml:"allowedHeaders"`

	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int `yaml:"maxAge"`
}

// DispatchConfig contains the dispatcher retry loop settings.
type DispatchConfig struct {
	// MaxRetries is the outer attempt cap per request. The effective cap
	// is max(MaxRetries, accountCount+1). Range [1,20].
	// Default: 3
	MaxRetries int `yaml:"maxRetries"`

	// RetryBaseMs and RetryMaxMs bound the exponential backoff band used
	// for transient errors.
	// Defaults: 1000, 16000
	RetryBaseMs int `yaml:"retryBaseMs"`
	RetryMaxMs  int `yaml:"retryMaxMs"`

	// DefaultCooldownMs is the account rate-limit cooldown used when the
	// upstream does not provide a usable reset hint.
	// Default: 60000
	DefaultCooldownMs int `yaml:"defaultCooldownMs"`

	// MaxCooldownMs caps a server-provided reset before the default is
	// used instead.
	// Default: 3600000
	MaxCooldownMs int `yaml:"maxCooldownMs"`

	// MaxWaitBeforeErrorMs is the longest a request waits for a rate-limit
	// reset before failing (unless InfiniteRetryMode).
	// Default: 600000 (10 minutes)
	MaxWaitBeforeErrorMs int `yaml:"maxWaitBeforeErrorMs"`

	// MaxContextTokens is the truncation budget for outbound conversations.
	// 0 disables truncation. The estimate is a chars/4 heuristic, not a
	// tokenizer.
	// Default: 0
	MaxContextTokens int `yaml:"maxContextTokens"`

	// InfiniteRetryMode never errors on rate limits; requests wait until
	// an account frees up.
	// Default: false
	InfiniteRetryMode bool `yaml:"infiniteRetryMode"`

	// AutoFallback enables the model fallback chain.
	// Default: false
	AutoFallback bool `yaml:"autoFallback"`

	// WaitProgressUpdates emits ping events while a streaming request
	// waits for a rate-limit reset. Nil means true.
	WaitProgressUpdates *bool `yaml:"waitProgressUpdates"`

	// DefaultThinkingLevel is applied to thinking-capable models when the
	// request carries no budget. One of minimal, low, medium, high, or
	// empty for none.
	DefaultThinkingLevel string `yaml:"defaultThinkingLevel"`

	// DefaultThinkingBudget is the reasoning budget applied when no level
	// is configured. 0 means none.
	DefaultThinkingBudget int `yaml:"defaultThinkingBudget"`
}

// AccountsConfig contains account pool settings.
type AccountsConfig struct {
	// MaxConcurrentRequests caps in-flight requests per account.
	// Default: 5
	MaxConcurrentRequests int `yaml:"maxConcurrentRequests"`

	// MinQuotaFraction excludes accounts whose quota snapshot shows less
	// remaining than this fraction for the requested model.
	// Default: 0.1
	MinQuotaFraction float64 `yaml:"minQuotaFraction"`

	// Selection contains the selection policy settings.
	Selection SelectionConfig `yaml:"selection"`
}

// SelectionConfig contains selection policy settings.
type SelectionConfig struct {
	// Strategy selects the policy: "sticky", "round-robin", or "hybrid".
	// Default: "hybrid"
	Strategy string `yaml:"strategy"`

	// HealthScore tunes the hybrid policy's per-account health integer.
	HealthScore HealthScoreConfig `yaml:"healthScore"`

	// TokenBucket tunes the hybrid policy's per-account pacing bucket.
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`

	// Quota tunes quota-snapshot scoring.
	Quota QuotaConfig `yaml:"quota"`

	// Rotation tunes session rotation triggers.
	Rotation RotationConfig `yaml:"rotation"`
}

// HealthScoreConfig tunes the hybrid health score. The score is clamped to
// [Min, Max].
type HealthScoreConfig struct {
	// Initial is the starting score. Default: 70
	Initial int `yaml:"initial"`

	// Min and Max clamp the score. Defaults: 50, 100
	Min int `yaml:"min"`
	Max int `yaml:"max"`

	// SuccessDelta is added on success. Default: 1
	SuccessDelta int `yaml:"successDelta"`

	// RateLimitPenalty is subtracted on a rate-limit hit. Default: 10
	RateLimitPenalty int `yaml:"rateLimitPenalty"`

	// FailurePenalty is subtracted on other failures. Default: 20
	FailurePenalty int `yaml:"failurePenalty"`

	// RecoverPerHour is added passively per hour. Default: 2
	RecoverPerHour int `yaml:"recoverPerHour"`
}

// TokenBucketConfig tunes the hybrid pacing bucket.
type TokenBucketConfig struct {
	// Capacity is the burst size. Default: 50
	Capacity int `yaml:"capacity"`

	// RefillPerMinute is the refill rate. Default: 6
	RefillPerMinute float64 `yaml:"refillPerMinute"`
}

// QuotaConfig tunes quota-snapshot scoring.
type QuotaConfig struct {
	// LowThreshold marks an account low on quota. Default: 0.10
	LowThreshold float64 `yaml:"lowThreshold"`

	// CriticalThreshold excludes an account from selection. Default: 0.05
	CriticalThreshold float64 `yaml:"criticalThreshold"`

	// StaleMs is how long a snapshot is trusted. Default: 300000
	StaleMs int `yaml:"staleMs"`
}

// RotationConfig tunes session rotation off the pinned account.
type RotationConfig struct {
	// MaxSessionMessages rotates after this many messages. Default: 40
	MaxSessionMessages int `yaml:"maxSessionMessages"`

	// MaxSessionTokens rotates after this many estimated tokens.
	// Default: 400000
	MaxSessionTokens int64 `yaml:"maxSessionTokens"`

	// QuotaThreshold rotates when the pinned account's remaining fraction
	// drops below this while another account has at least QuotaMargin
	// more. Defaults: 0.25, 0.20
	QuotaThreshold float64 `yaml:"quotaThreshold"`
	QuotaMargin    float64 `yaml:"quotaMargin"`
}

// UpstreamConfig contains upstream endpoint settings.
type UpstreamConfig struct {
	// BaseURLs is the fallback-ordered endpoint host list. Empty uses the
	// built-in order.
	BaseURLs []string `yaml:"baseURLs"`

	// HeaderMode selects the upstream header set and quota class:
	// "cli" or "antigravity".
	// Default: "antigravity"
	HeaderMode string `yaml:"geminiHeaderMode"`

	// Timeout bounds one upstream call.
	// Default: 4m
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent overrides the upstream User-Agent header.
	UserAgent string `yaml:"userAgent"`
}

// ModelMapping is a per-requested-model override.
type ModelMapping struct {
	// Hidden removes the model from GET /v1/models.
	Hidden bool `yaml:"hidden"`

	// Pinned pins the model to a specific account key.
	Pinned string `yaml:"pinned"`

	// Mapping substitutes the upstream model id.
	Mapping string `yaml:"mapping"`

	// Alias publishes the model under an additional id.
	Alias string `yaml:"alias"`
}

// StorageConfig contains persisted state paths.
type StorageConfig struct {
	// DataDir is the base directory for persisted files.
	// Default: "./data"
	DataDir string `yaml:"dataDir"`

	// AccountsFile, SignatureCacheFile, and UsageHistoryFile override the
	// individual JSON file paths. Empty derives them from DataDir.
	AccountsFile       string `yaml:"accountsFile"`
	SignatureCacheFile string `yaml:"signatureCacheFile"`
	UsageHistoryFile   string `yaml:"usageHistoryFile"`

	// RequestLogPath is the sqlite request log. Empty derives from DataDir.
	RequestLogPath string `yaml:"requestLogPath"`

	// RequestLogDriver selects the sqlite driver: "sqlite" (CGO-free) or
	// "sqlite3" (cgo). Default: "sqlite"
	RequestLogDriver string `yaml:"requestLogDriver"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging contains structured logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains prometheus settings.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "text"
	Format string `yaml:"format"`

	// RedactCredentials scrubs tokens and keys from log fields.
	// Nil means true.
	RedactCredentials *bool `yaml:"redactCredentials"`
}

// MetricsConfig contains prometheus settings.
type MetricsConfig struct {
	// Enabled exposes GET /metrics. Nil means true.
	Enabled *bool `yaml:"enabled"`
}

// boolOrTrue resolves a tri-state flag whose absence means enabled.
func boolOrTrue(v *bool) bool { return v == nil || *v }

// ProgressUpdates reports whether streaming wait progress events are enabled.
func (d *DispatchConfig) ProgressUpdates() bool { return boolOrTrue(d.WaitProgressUpdates) }

// CORSEnabled reports whether CORS handling is enabled.
func (s *ServerConfig) CORSEnabled() bool { return boolOrTrue(s.CORS.Enabled) }

// Redact reports whether credential redaction is enabled.
func (l *LoggingConfig) Redact() bool { return boolOrTrue(l.RedactCredentials) }

// MetricsEnabled reports whether the /metrics endpoint is exposed.
func (t *TelemetryConfig) MetricsEnabled() bool { return boolOrTrue(t.Metrics.Enabled) }

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a file at the specified path. The file
// may be YAML or JSON (JSON is a YAML subset, so one parser covers both). It
// applies defaults, validates, and returns the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a file and applies
// environment variable overrides. Variables follow the convention
// GANYMEDE_SECTION_FIELD (e.g. GANYMEDE_SERVER_LISTEN_ADDRESS) and always
// take precedence over the file.
//
// The loading sequence is:
//  1. Load the file (this already applies defaults)
//  2. Apply environment variable overrides
//  3. Validate the final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies GANYMEDE_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	envString("GANYMEDE_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("GANYMEDE_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("GANYMEDE_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("GANYMEDE_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("GANYMEDE_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	envInt("GANYMEDE_DISPATCH_MAX_RETRIES", &cfg.Dispatch.MaxRetries)
	envInt("GANYMEDE_DISPATCH_RETRY_BASE_MS", &cfg.Dispatch.RetryBaseMs)
	envInt("GANYMEDE_DISPATCH_RETRY_MAX_MS", &cfg.Dispatch.RetryMaxMs)
	envInt("GANYMEDE_DISPATCH_DEFAULT_COOLDOWN_MS", &cfg.Dispatch.DefaultCooldownMs)
	envInt("GANYMEDE_DISPATCH_MAX_COOLDOWN_MS", &cfg.Dispatch.MaxCooldownMs)
	envInt("GANYMEDE_DISPATCH_MAX_WAIT_BEFORE_ERROR_MS", &cfg.Dispatch.MaxWaitBeforeErrorMs)
	envInt("GANYMEDE_DISPATCH_MAX_CONTEXT_TOKENS", &cfg.Dispatch.MaxContextTokens)
	envBool("GANYMEDE_DISPATCH_INFINITE_RETRY", &cfg.Dispatch.InfiniteRetryMode)
	envBool("GANYMEDE_DISPATCH_AUTO_FALLBACK", &cfg.Dispatch.AutoFallback)
	envBoolPtr("GANYMEDE_DISPATCH_WAIT_PROGRESS_UPDATES", &cfg.Dispatch.WaitProgressUpdates)
	envString("GANYMEDE_DISPATCH_DEFAULT_THINKING_LEVEL", &cfg.Dispatch.DefaultThinkingLevel)
	envInt("GANYMEDE_DISPATCH_DEFAULT_THINKING_BUDGET", &cfg.Dispatch.DefaultThinkingBudget)

	envInt("GANYMEDE_ACCOUNTS_MAX_CONCURRENT_REQUESTS", &cfg.Accounts.MaxConcurrentRequests)
	envFloat("GANYMEDE_ACCOUNTS_MIN_QUOTA_FRACTION", &cfg.Accounts.MinQuotaFraction)
	envString("GANYMEDE_ACCOUNTS_SELECTION_STRATEGY", &cfg.Accounts.Selection.Strategy)

	envString("GANYMEDE_UPSTREAM_HEADER_MODE", &cfg.Upstream.HeaderMode)
	envDuration("GANYMEDE_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	envString("GANYMEDE_UPSTREAM_USER_AGENT", &cfg.Upstream.UserAgent)
	if val := os.Getenv("GANYMEDE_UPSTREAM_BASE_URLS"); val != "" {
		parts := strings.Split(val, ",")
		urls := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				urls = append(urls, p)
			}
		}
		cfg.Upstream.BaseURLs = urls
	}

	envString("GANYMEDE_STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	envString("GANYMEDE_STORAGE_ACCOUNTS_FILE", &cfg.Storage.AccountsFile)
	envString("GANYMEDE_STORAGE_SIGNATURE_CACHE_FILE", &cfg.Storage.SignatureCacheFile)
	envString("GANYMEDE_STORAGE_USAGE_HISTORY_FILE", &cfg.Storage.UsageHistoryFile)
	envString("GANYMEDE_STORAGE_REQUEST_LOG_PATH", &cfg.Storage.RequestLogPath)
	envString("GANYMEDE_STORAGE_REQUEST_LOG_DRIVER", &cfg.Storage.RequestLogDriver)

	envString("GANYMEDE_LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("GANYMEDE_LOG_FORMAT", &cfg.Telemetry.Logging.Format)
	envBoolPtr("GANYMEDE_LOG_REDACT_CREDENTIALS", &cfg.Telemetry.Logging.RedactCredentials)
	envBoolPtr("GANYMEDE_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(key string, dst **bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks the configuration for invalid or inconsistent values.
// It is called by LoadConfig after defaults are applied.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateDispatch(&cfg.Dispatch); err != nil {
		return err
	}
	if err := validateAccounts(&cfg.Accounts); err != nil {
		return err
	}
	if err := validateUpstream(&cfg.Upstream); err != nil {
		return err
	}
	if err := validateFallback(cfg.Fallback); err != nil {
		return err
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return err
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
		return fmt.Errorf("server.listenAddress %q is not host:port: %w", s.ListenAddress, err)
	}
	return nil
}

func validateDispatch(d *DispatchConfig) error {
	if d.MaxRetries < 1 || d.MaxRetries > 20 {
		return fmt.Errorf("dispatch.maxRetries must be in [1,20], got %d", d.MaxRetries)
	}
	if d.RetryBaseMs <= 0 {
		return fmt.Errorf("dispatch.retryBaseMs must be positive, got %d", d.RetryBaseMs)
	}
	if d.RetryMaxMs < d.RetryBaseMs {
		return fmt.Errorf("dispatch.retryMaxMs (%d) must be >= retryBaseMs (%d)", d.RetryMaxMs, d.RetryBaseMs)
	}
	if d.DefaultCooldownMs <= 0 {
		return fmt.Errorf("dispatch.defaultCooldownMs must be positive, got %d", d.DefaultCooldownMs)
	}
	if d.MaxWaitBeforeErrorMs <= 0 {
		return fmt.Errorf("dispatch.maxWaitBeforeErrorMs must be positive, got %d", d.MaxWaitBeforeErrorMs)
	}
	if d.MaxContextTokens < 0 {
		return fmt.Errorf("dispatch.maxContextTokens must be >= 0, got %d", d.MaxContextTokens)
	}
	switch d.DefaultThinkingLevel {
	case "", "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("dispatch.defaultThinkingLevel %q is not one of minimal, low, medium, high", d.DefaultThinkingLevel)
	}
	if d.DefaultThinkingBudget < 0 {
		return fmt.Errorf("dispatch.defaultThinkingBudget must be >= 0, got %d", d.DefaultThinkingBudget)
	}
	return nil
}

func validateAccounts(a *AccountsConfig) error {
	if a.MaxConcurrentRequests < 1 {
		return fmt.Errorf("accounts.maxConcurrentRequests must be >= 1, got %d", a.MaxConcurrentRequests)
	}
	if a.MinQuotaFraction < 0 || a.MinQuotaFraction > 1 {
		return fmt.Errorf("accounts.minQuotaFraction must be in [0,1], got %g", a.MinQuotaFraction)
	}
	switch a.Selection.Strategy {
	case "sticky", "round-robin", "hybrid":
	default:
		return fmt.Errorf("accounts.selection.strategy %q is not one of sticky, round-robin, hybrid", a.Selection.Strategy)
	}
	hs := a.Selection.HealthScore
	if hs.Min >= hs.Max {
		return fmt.Errorf("accounts.selection.healthScore min (%d) must be < max (%d)", hs.Min, hs.Max)
	}
	if hs.Initial < hs.Min || hs.Initial > hs.Max {
		return fmt.Errorf("accounts.selection.healthScore initial (%d) must be within [%d,%d]", hs.Initial, hs.Min, hs.Max)
	}
	q := a.Selection.Quota
	if q.CriticalThreshold > q.LowThreshold {
		return fmt.Errorf("accounts.selection.quota criticalThreshold (%g) must be <= lowThreshold (%g)", q.CriticalThreshold, q.LowThreshold)
	}
	return nil
}

func validateUpstream(u *UpstreamConfig) error {
	switch u.HeaderMode {
	case "cli", "antigravity":
	default:
		return fmt.Errorf("upstream.geminiHeaderMode %q is not one of cli, antigravity", u.HeaderMode)
	}
	for _, base := range u.BaseURLs {
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			return fmt.Errorf("upstream.baseURLs entry %q must start with http:// or https://", base)
		}
	}
	return nil
}

// validateFallback rejects cycles in the model fallback chain so the
// dispatcher's chain walk always terminates.
func validateFallback(chain map[string]string) error {
	for start := range chain {
		seen := map[string]bool{start: true}
		cur := start
		for {
			next, ok := chain[cur]
			if !ok || next == "" {
				break
			}
			if seen[next] {
				return fmt.Errorf("fallback chain contains a cycle through %q", next)
			}
			seen[next] = true
			cur = next
		}
	}
	return nil
}

func validateTelemetry(t *TelemetryConfig) error {
	switch t.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level %q is not one of debug, info, warn, error", t.Logging.Level)
	}
	switch t.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format %q is not one of json, text", t.Logging.Format)
	}
	return nil
}

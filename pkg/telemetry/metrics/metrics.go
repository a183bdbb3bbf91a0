package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks the proxy's operational metrics.
//
// Metrics:
//   - ganymede_requests_total: Completed client requests by model and status
//   - ganymede_request_duration_seconds: End-to-end request duration
//   - ganymede_request_tokens_total: Tokens by model and direction
//   - ganymede_upstream_errors_total: Classified upstream failures
//   - ganymede_account_rate_limited_total: Rate-limit markings per account
//   - ganymede_accounts_usable: Usable account gauge per model
//   - ganymede_dispatch_attempts: Attempts consumed per request
//   - ganymede_wait_seconds_total: Time spent waiting for rate-limit resets
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	upstreamErrors   *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
	accountsUsable   *prometheus.GaugeVec
	dispatchAttempts *prometheus.HistogramVec
	waitSeconds      prometheus.Counter
}

// New creates a Metrics instance backed by a fresh registry that also
// exposes the standard Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ganymede",
				Name:      "requests_total",
				Help:      "Completed client requests",
			},
			[]string{"model", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ganymede",
				Name:      "request_duration_seconds",
				Help:      "End-to-end client request duration",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"model"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ganymede",
				Name:      "request_tokens_total",
				Help:      "Tokens processed by direction",
			},
			[]string{"model", "direction"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ganymede",
				Name:      "upstream_errors_total",
				Help:      "Upstream failures by classified kind",
			},
			[]string{"kind"},
		),

		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ganymede",
				Name:      "account_rate_limited_total",
				Help:      "Rate-limit markings by account and quota key",
			},
			[]string{"account", "quota_key"},
		),

		accountsUsable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ganymede",
				Name:      "accounts_usable",
				Help:      "Accounts currently usable for a model",
			},
			[]string{"model"},
		),

		dispatchAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ganymede",
				Name:      "dispatch_attempts",
				Help:      "Dispatcher attempts consumed per request",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 21},
			},
			[]string{"model"},
		),

		waitSeconds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ganymede",
				Name:      "wait_seconds_total",
				Help:      "Time spent waiting for rate-limit resets",
			},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.tokensTotal,
		m.upstreamErrors,
		m.rateLimitedTotal,
		m.accountsUsable,
		m.dispatchAttempts,
		m.waitSeconds,
	)

	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed client request.
func (m *Metrics) RecordRequest(model, status string, duration time.Duration, attempts int) {
	m.requestsTotal.WithLabelValues(model, status).Inc()
	m.requestDuration.WithLabelValues(model).Observe(duration.Seconds())
	m.dispatchAttempts.WithLabelValues(model).Observe(float64(attempts))
}

// RecordTokens records token usage for a request.
func (m *Metrics) RecordTokens(model string, input, output, cached int) {
	if input > 0 {
		m.tokensTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokensTotal.WithLabelValues(model, "output").Add(float64(output))
	}
	if cached > 0 {
		m.tokensTotal.WithLabelValues(model, "cache_read").Add(float64(cached))
	}
}

// RecordUpstreamError records a classified upstream failure.
func (m *Metrics) RecordUpstreamError(kind string) {
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// RecordRateLimited records a rate-limit marking.
func (m *Metrics) RecordRateLimited(account, quotaKey string) {
	m.rateLimitedTotal.WithLabelValues(account, quotaKey).Inc()
}

// SetUsableAccounts updates the usable-account gauge for a model.
func (m *Metrics) SetUsableAccounts(model string, n int) {
	m.accountsUsable.WithLabelValues(model).Set(float64(n))
}

// AddWait accumulates time spent waiting for resets.
func (m *Metrics) AddWait(d time.Duration) {
	m.waitSeconds.Add(d.Seconds())
}

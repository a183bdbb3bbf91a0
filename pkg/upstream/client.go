package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gemini"
	"mercator-hq/ganymede/pkg/translator"
)

// Built-in fallback host order for the internal endpoints.
var defaultBaseURLs = []string{
	"https://daily-cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// Operational endpoint paths.
const (
	generatePath       = "/v1internal:generateContent"
	streamPath         = "/v1internal:streamGenerateContent"
	fetchModelsPath    = "/v1internal:fetchAvailableModels"
	loadCodeAssistPath = "/v1internal:loadCodeAssist"
)

// User agents per header mode.
const (
	userAgentCLI         = "GeminiCLI/0.9.0 (linux; x64)"
	userAgentAntigravity = "antigravity/1.104.0 linux/x64"
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	// Code is the HTTP status.
	Code int

	// Body is the (truncated) response body.
	Body string

	// RetryAfterMillis is the server-suggested reset, 0 when absent.
	RetryAfterMillis int64
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Client calls the upstream internal API for one process. It is safe for
// concurrent use; per-account state lives on the Account and in the token
// provider.
type Client struct {
	cfg        config.UpstreamConfig
	tokens     *TokenProvider
	httpClient *http.Client
}

// NewClient creates an upstream client.
func NewClient(cfg config.UpstreamConfig) *Client {
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
	return &Client{
		cfg:        cfg,
		tokens:     NewTokenProvider(&http.Client{Timeout: 30 * time.Second}),
		httpClient: httpClient,
	}
}

// Tokens exposes the token provider for cache invalidation.
func (c *Client) Tokens() *TokenProvider {
	return c.tokens
}

// BaseURLs returns the endpoint hosts in fallback preference order.
func (c *Client) BaseURLs() []string {
	if len(c.cfg.BaseURLs) > 0 {
		return c.cfg.BaseURLs
	}
	return defaultBaseURLs
}

// QuotaClass returns the quota class implied by the header mode.
func (c *Client) QuotaClass() account.QuotaClass {
	if c.cfg.HeaderMode == "cli" {
		return account.ClassCLI
	}
	return account.ClassAntigravity
}

func (c *Client) userAgent() string {
	if c.cfg.UserAgent != "" {
		return c.cfg.UserAgent
	}
	if c.cfg.HeaderMode == "cli" {
		return userAgentCLI
	}
	return userAgentAntigravity
}

// Generate performs a unary generate-content call against one base URL.
func (c *Client) Generate(ctx context.Context, acct *account.Account, baseURL, model string, greq *gemini.Request) (*gemini.Response, error) {
	httpReq, err := c.buildCall(ctx, acct, baseURL, generatePath, model, greq, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp, body)
	}

	var envelope gemini.ResponseEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("upstream response parse failed: %w", err)
	}
	return envelope.Unwrap(), nil
}

// Stream opens the SSE endpoint and returns the response body for the
// relay to consume. The caller must close it.
func (c *Client) Stream(ctx context.Context, acct *account.Account, baseURL, model string, greq *gemini.Request) (io.ReadCloser, error) {
	httpReq, err := c.buildCall(ctx, acct, baseURL, streamPath+"?alt=sse", model, greq, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newStatusError(resp, body)
	}
	return resp.Body, nil
}

// buildCall wraps the request in the internal envelope and frames headers.
func (c *Client) buildCall(ctx context.Context, acct *account.Account, baseURL, path, model string, greq *gemini.Request, stream bool) (*http.Request, error) {
	token, err := c.tokens.Token(ctx, acct)
	if err != nil {
		return nil, err
	}
	project, err := c.ensureProject(ctx, acct, token, baseURL)
	if err != nil {
		return nil, err
	}

	envelope := gemini.Envelope{
		Project:   project,
		Model:     translator.ToUpstreamModel(model),
		UserAgent: c.cfg.HeaderMode,
		RequestID: "agent-" + uuid.NewString(),
		Request:   greq,
	}
	payload, err := json.Marshal(&envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", c.userAgent())
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	return httpReq, nil
}

// newStatusError builds a StatusError, pulling a reset hint from the
// Retry-After header or the error payload's retry details.
func newStatusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{
		Code: resp.StatusCode,
		Body: truncateBody(body),
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if d := parseRetryAfter(header); d > 0 {
			se.RetryAfterMillis = time.Now().Add(d).UnixMilli()
		}
	}
	if se.RetryAfterMillis == 0 {
		if d := retryDelayFromBody(body); d > 0 {
			se.RetryAfterMillis = time.Now().Add(d).UnixMilli()
		}
	}
	return se
}

// parseRetryAfter supports both delay-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

// retryDelayFromBody digs the RetryInfo detail out of a structured error
// payload ("retryDelay": "21s").
func retryDelayFromBody(body []byte) time.Duration {
	var parsed gemini.ErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0
	}
	var details []struct {
		Type       string `json:"@type"`
		RetryDelay string `json:"retryDelay"`
	}
	if err := json.Unmarshal(parsed.Error.Details, &details); err != nil {
		return 0
	}
	for _, d := range details {
		if d.RetryDelay == "" {
			continue
		}
		if dur, err := time.ParseDuration(d.RetryDelay); err == nil {
			return dur
		}
	}
	return 0
}

// ensureProject returns the account's project id, deriving it from the
// upstream on first use and caching it on the account.
func (c *Client) ensureProject(ctx context.Context, acct *account.Account, token, baseURL string) (string, error) {
	if project := acct.Project(); project != "" {
		return project, nil
	}

	info, err := c.loadCodeAssist(ctx, token, baseURL)
	if err == nil && info.Project != "" {
		acct.SetProject(info.Project)
		if info.Tier != "" {
			acct.SetTier(info.Tier)
		}
		return info.Project, nil
	}

	// Derivation failed; a synthetic project keeps the request moving.
	project := syntheticProjectID()
	acct.SetProject(project)
	return project, nil
}

// syntheticProjectID fabricates a plausible project id for accounts whose
// real project cannot be derived.
func syntheticProjectID() string {
	return "useful-flow-" + strings.ToLower(uuid.NewString())[:5]
}

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/account"
)

// OAuth token endpoint and client registration for the desktop-agent flow
// the accounts were enrolled through.
const (
	oauthTokenURL     = "https://oauth2.googleapis.com/token"
	oauthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	oauthClientSecret = "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"

	// tokenRefreshSkew refreshes tokens well before expiry so a token
	// never dies mid-stream.
	tokenRefreshSkew = 5 * time.Minute
)

// permanentFailureReasons are refresh-error substrings that mean the
// credential is dead, not transiently unavailable.
var permanentFailureReasons = []string{
	"invalid_grant",
	"token revoked",
	"invalid_client",
	"credentials are invalid",
	"refresh token has expired",
}

// PermanentAuthError marks an account's credential as unrecoverable.
type PermanentAuthError struct {
	Account string
	Reason  string
}

// Error implements the error interface.
func (e *PermanentAuthError) Error() string {
	return fmt.Sprintf("account %q credential permanently invalid: %s", e.Account, e.Reason)
}

// IsPermanentAuthError reports whether err marks a dead credential.
func IsPermanentAuthError(err error) bool {
	var pe *PermanentAuthError
	return errors.As(err, &pe)
}

// TokenProvider exchanges long-lived account credentials for short-lived
// bearer tokens, caching them per account.
type TokenProvider struct {
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]*cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewTokenProvider creates a provider using the given HTTP client.
func NewTokenProvider(httpClient *http.Client) *TokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenProvider{
		httpClient: httpClient,
		cache:      make(map[string]*cachedToken),
	}
}

// Token returns a bearer token for the account, refreshing from the
// long-lived credential when the cached token is missing or near expiry.
// A static API key is used as-is.
func (tp *TokenProvider) Token(ctx context.Context, acct *account.Account) (string, error) {
	refreshToken, apiKey := acct.Credentials()
	if apiKey != "" {
		return apiKey, nil
	}
	if refreshToken == "" {
		return "", &PermanentAuthError{Account: acct.Key, Reason: "no credential material"}
	}

	tp.mu.Lock()
	cached, ok := tp.cache[acct.Key]
	tp.mu.Unlock()
	if ok && time.Until(cached.expiresAt) > tokenRefreshSkew {
		return cached.token, nil
	}

	token, expiresIn, err := tp.refresh(ctx, acct.Key, refreshToken)
	if err != nil {
		return "", err
	}

	tp.mu.Lock()
	tp.cache[acct.Key] = &cachedToken{
		token:     token,
		expiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	tp.mu.Unlock()
	return token, nil
}

// Invalidate drops the cached token so the next call refreshes. Called
// when the upstream rejects a token as expired.
func (tp *TokenProvider) Invalidate(accountKey string) {
	tp.mu.Lock()
	delete(tp.cache, accountKey)
	tp.mu.Unlock()
}

// refresh performs the OAuth refresh-token grant.
func (tp *TokenProvider) refresh(ctx context.Context, accountKey, refreshToken string) (string, int64, error) {
	form := url.Values{}
	form.Set("client_id", oauthClientID)
	form.Set("client_secret", oauthClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tp.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("token refresh read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := string(body)
		for _, marker := range permanentFailureReasons {
			if strings.Contains(strings.ToLower(reason), marker) {
				return "", 0, &PermanentAuthError{Account: accountKey, Reason: marker}
			}
		}
		return "", 0, fmt.Errorf("token refresh returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("token refresh parse failed: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("token refresh returned no access token")
	}
	if tokenResp.ExpiresIn <= 0 {
		tokenResp.ExpiresIn = 3600
	}
	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

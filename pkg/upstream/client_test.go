package upstream

import (
	"context"
	"net/http"
	"testing"
	"time"

	"mercator-hq/ganymede/internal/upstreamtest"
	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gemini"
)

func newTestClient(t *testing.T) (*Client, *upstreamtest.MockServer) {
	t.Helper()
	mock := upstreamtest.NewMockServer()
	t.Cleanup(mock.Close)

	client := NewClient(config.UpstreamConfig{
		BaseURLs:   []string{mock.URL()},
		HeaderMode: "antigravity",
		Timeout:    5 * time.Second,
	})
	return client, mock
}

func testAccount() *account.Account {
	return &account.Account{Key: "a@example.com", APIKey: "key", ProjectID: "proj", Enabled: true}
}

func TestClient_Generate(t *testing.T) {
	client, mock := newTestClient(t)
	mock.SetResponse(":generateContent", upstreamtest.MockResponse{
		Body: map[string]any{
			"response": map[string]any{
				"candidates": []any{map[string]any{
					"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": "pong"}}},
					"finishReason": "STOP",
				}},
			},
		},
	})

	resp, err := client.Generate(context.Background(), testAccount(), mock.URL(), "gemini-2.5-flash", &gemini.Request{
		Contents: []gemini.Content{{Role: gemini.RoleUser, Parts: []gemini.Part{{Text: "ping"}}}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Candidates[0].Content.Parts[0].Text != "pong" {
		t.Errorf("text = %q, want pong", resp.Candidates[0].Content.Parts[0].Text)
	}
}

func TestClient_GenerateStatusError(t *testing.T) {
	client, mock := newTestClient(t)
	mock.SetResponse(":generateContent", upstreamtest.MockResponse{
		StatusCode: http.StatusTooManyRequests,
		RawBody:    `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"21s"}]}}`,
	})

	_, err := client.Generate(context.Background(), testAccount(), mock.URL(), "gemini-2.5-flash", &gemini.Request{})
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("error type = %T, want *StatusError", err)
	}
	if se.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", se.Code)
	}

	// The RetryInfo detail becomes a concrete reset hint.
	remaining := time.UnixMilli(se.RetryAfterMillis).Sub(time.Now())
	if remaining < 15*time.Second || remaining > 25*time.Second {
		t.Errorf("retry hint = %s, want about 21s", remaining)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "seconds", header: "30", want: 30 * time.Second},
		{name: "empty", header: "", want: 0},
		{name: "garbage", header: "soon", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.header); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.header, got, tt.want)
			}
		})
	}
}

func TestClient_QuotaClass(t *testing.T) {
	cli := NewClient(config.UpstreamConfig{HeaderMode: "cli", Timeout: time.Second})
	if cli.QuotaClass() != account.ClassCLI {
		t.Errorf("cli header mode should map to the cli quota class")
	}
	ag := NewClient(config.UpstreamConfig{HeaderMode: "antigravity", Timeout: time.Second})
	if ag.QuotaClass() != account.ClassAntigravity {
		t.Errorf("antigravity header mode should map to the antigravity quota class")
	}
}

func TestClient_FetchQuota(t *testing.T) {
	client, mock := newTestClient(t)
	reset := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	mock.SetResponse(":fetchAvailableModels", upstreamtest.MockResponse{
		Body: map[string]any{
			"models": map[string]any{
				"gemini-3-pro-high": map[string]any{
					"quotaInfo": map[string]any{"remainingFraction": 0.42, "resetTime": reset},
				},
				"chat_20706": map[string]any{
					"quotaInfo": map[string]any{"remainingFraction": 0.9},
				},
			},
		},
	})

	acct := testAccount()
	snapshot, err := client.FetchQuota(context.Background(), acct)
	if err != nil {
		t.Fatalf("FetchQuota() error = %v", err)
	}

	// Internal ids map back to public ids; unpublished ids are dropped.
	q, ok := snapshot.Models["gemini-3-pro-preview"]
	if !ok {
		t.Fatalf("snapshot = %+v, want gemini-3-pro-preview entry", snapshot.Models)
	}
	if q.RemainingFraction != 0.42 {
		t.Errorf("remaining = %g, want 0.42", q.RemainingFraction)
	}
	if _, ok := snapshot.Models["chat_20706"]; ok {
		t.Error("internal-only models should not appear")
	}

	// The snapshot caches on the account.
	if cached, ok := acct.QuotaFor("gemini-3-pro-preview"); !ok || cached.RemainingFraction != 0.42 {
		t.Error("snapshot not cached on the account")
	}
}

func TestClient_ListModels(t *testing.T) {
	client, mock := newTestClient(t)
	mock.SetResponse(":fetchAvailableModels", upstreamtest.MockResponse{
		Body: map[string]any{
			"models": map[string]any{
				"gemini-3-pro-high":                 map[string]any{},
				"gemini-claude-sonnet-4-5-thinking": map[string]any{},
				"chat_23310":                        map[string]any{},
			},
		},
	})

	models, err := client.ListModels(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	want := []string{"claude-sonnet-4-5-thinking", "gemini-3-pro-preview"}
	if len(models) != len(want) {
		t.Fatalf("models = %v, want %v", models, want)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("models[%d] = %q, want %q", i, models[i], want[i])
		}
	}
}

func TestTierFromID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{id: "free-tier", want: account.TierFree},
		{id: "standard-tier", want: account.TierPro},
		{id: "g1-ultra", want: account.TierUltra},
		{id: "mystery", want: account.TierUnknown},
		{id: "", want: ""},
	}
	for _, tt := range tests {
		if got := tierFromID(tt.id); got != tt.want {
			t.Errorf("tierFromID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestTokenProvider_PermanentFailureDetection(t *testing.T) {
	if !IsPermanentAuthError(&PermanentAuthError{Account: "a", Reason: "invalid_grant"}) {
		t.Error("PermanentAuthError should be detected")
	}
	if IsPermanentAuthError(context.Canceled) {
		t.Error("unrelated errors are not permanent auth failures")
	}
}

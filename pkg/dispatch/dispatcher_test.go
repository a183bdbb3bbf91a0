package dispatch

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"mercator-hq/ganymede/internal/upstreamtest"
	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/sigcache"
	"mercator-hq/ganymede/pkg/translator"
	"mercator-hq/ganymede/pkg/upstream"
)

// testHarness wires a dispatcher against the mock upstream.
type testHarness struct {
	mock       *upstreamtest.MockServer
	cfg        *config.Config
	pool       *account.Pool
	sessions   *account.Sessions
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, accountKeys ...string) *testHarness {
	t.Helper()

	mock := upstreamtest.NewMockServer()
	t.Cleanup(mock.Close)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Upstream.BaseURLs = []string{mock.URL()}
	cfg.Upstream.Timeout = 10 * time.Second
	cfg.Accounts.Selection.Strategy = "sticky"

	pool := account.NewPool(account.PoolConfig{
		MaxConcurrent:    cfg.Accounts.MaxConcurrentRequests,
		MinQuotaFraction: cfg.Accounts.MinQuotaFraction,
		DefaultCooldown:  time.Duration(cfg.Dispatch.DefaultCooldownMs) * time.Millisecond,
		MaxCooldown:      time.Duration(cfg.Dispatch.MaxCooldownMs) * time.Millisecond,
	}, nil)
	for _, key := range accountKeys {
		// API-key credentials skip the OAuth exchange; a preset project
		// skips discovery.
		pool.Add(&account.Account{Key: key, APIKey: "test-key", ProjectID: "proj"})
	}

	sessions := account.NewSessions()
	policy, err := routing.NewPolicy(cfg, sessions)
	if err != nil {
		t.Fatal(err)
	}

	cache := sigcache.New("")
	dispatcher := New(cfg, pool, sessions, policy,
		upstream.NewClient(cfg.Upstream),
		translator.New(cache, translator.Options{}),
		cache, nil, nil)

	return &testHarness{
		mock:       mock,
		cfg:        cfg,
		pool:       pool,
		sessions:   sessions,
		dispatcher: dispatcher,
	}
}

func messagesRequest(model, text string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     model,
		MaxTokens: 512,
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: anthropic.BlockContent{anthropic.TextBlock(text)},
		}},
	}
}

func unarySuccessBody(text string) map[string]any {
	return map[string]any{
		"response": map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":        5,
				"candidatesTokenCount":    1,
				"cachedContentTokenCount": 0,
			},
		},
	}
}

func TestDispatcher_UnarySuccess(t *testing.T) {
	h := newHarness(t, "a1")
	h.mock.SetResponse(":generateContent", upstreamtest.MockResponse{Body: unarySuccessBody("hello")})

	resp, err := h.dispatcher.Do(context.Background(), messagesRequest("gemini-2.5-flash", "hi"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if len(resp.Content) != 1 || resp.Content[0].Text != "hello" {
		t.Errorf("content = %+v, want one text block hello", resp.Content)
	}
	if resp.StopReason != anthropic.StopEndTurn {
		t.Errorf("stop_reason = %q, want end_turn", resp.StopReason)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 1 || resp.Usage.CacheReadInputTokens != 0 {
		t.Errorf("usage = %+v, want 5/1/0", resp.Usage)
	}

	// The concurrency slot returns to its pre-request value.
	if active := h.pool.Get("a1").Active(); active != 0 {
		t.Errorf("activeRequests = %d, want 0 after completion", active)
	}
}

func TestDispatcher_RateLimitedFailover(t *testing.T) {
	h := newHarness(t, "a1", "a2")
	h.mock.SetResponse(":generateContent", upstreamtest.MockResponse{Body: unarySuccessBody("ok")})

	// a1 is pre-marked limited for the requested quota key.
	quotaKey := account.QuotaKey("gemini-2.5-flash", account.ClassAntigravity)
	h.pool.MarkRateLimited("a1", quotaKey, time.Now().Add(30*time.Second).UnixMilli(), account.LimitTypeUser)

	resp, err := h.dispatcher.Do(context.Background(), messagesRequest("gemini-2.5-flash", "hi"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(resp.Content) == 0 {
		t.Fatal("expected content")
	}

	// a1's limit is untouched; a2 served the request.
	if state, ok := h.pool.Get("a1").RateLimit(quotaKey); !ok || !state.Limited {
		t.Error("a1 should stay limited")
	}
	if h.pool.Get("a2").LastUsedAt().IsZero() {
		t.Error("a2 should have served the request")
	}
}

func TestDispatcher_AllLimitedWaitsThenSucceeds(t *testing.T) {
	h := newHarness(t, "a1")
	h.mock.SetResponse(":generateContent", upstreamtest.MockResponse{Body: unarySuccessBody("ok")})

	quotaKey := account.QuotaKey("gemini-2.5-flash", account.ClassAntigravity)
	h.pool.MarkRateLimited("a1", quotaKey, time.Now().Add(1500*time.Millisecond).UnixMilli(), account.LimitTypeUser)

	started := time.Now()
	resp, err := h.dispatcher.Do(context.Background(), messagesRequest("gemini-2.5-flash", "hi"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(resp.Content) == 0 {
		t.Fatal("expected content")
	}
	if elapsed := time.Since(started); elapsed < 1200*time.Millisecond {
		t.Errorf("latency = %s, want >= the reset distance", elapsed)
	}
	if active := h.pool.Get("a1").Active(); active != 0 {
		t.Errorf("activeRequests = %d, want 0", active)
	}
}

func TestDispatcher_AllLimitedBeyondCapFails(t *testing.T) {
	h := newHarness(t, "a1")
	h.cfg.Dispatch.MaxWaitBeforeErrorMs = 100

	quotaKey := account.QuotaKey("gemini-2.5-flash", account.ClassAntigravity)
	h.pool.MarkRateLimited("a1", quotaKey, time.Now().Add(time.Hour).UnixMilli(), account.LimitTypeUser)

	_, err := h.dispatcher.Do(context.Background(), messagesRequest("gemini-2.5-flash", "hi"))
	if err == nil {
		t.Fatal("expected a rate-limited failure")
	}
	de, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	// 400, not 429: client SDKs auto-retry 429s.
	if de.HTTPStatus != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", de.HTTPStatus)
	}
	if !strings.Contains(de.Message, "reset") {
		t.Errorf("message %q should mention the reset time", de.Message)
	}
}

func TestDispatcher_BadRequestIsFatal(t *testing.T) {
	h := newHarness(t, "a1", "a2")
	h.mock.SetResponse(":generateContent", upstreamtest.MockResponse{
		StatusCode: http.StatusBadRequest,
		RawBody:    `{"error":{"code":400,"message":"invalid schema","status":"INVALID_ARGUMENT"}}`,
	})

	_, err := h.dispatcher.Do(context.Background(), messagesRequest("gemini-2.5-flash", "hi"))
	de, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if de.Kind != KindBadRequest || de.HTTPStatus != http.StatusBadRequest {
		t.Errorf("got %s/%d, want bad_request/400", de.Kind, de.HTTPStatus)
	}
	if !strings.Contains(de.Message, "invalid schema") {
		t.Errorf("message %q should carry the upstream text", de.Message)
	}

	// Fatal means no account switch: one upstream call total.
	if n := h.mock.RequestCount(":generateContent"); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	for _, key := range []string{"a1", "a2"} {
		if active := h.pool.Get(key).Active(); active != 0 {
			t.Errorf("%s activeRequests = %d, want 0", key, active)
		}
	}
}

func TestDispatcher_ThinkingModelAggregatesStream(t *testing.T) {
	h := newHarness(t, "a1")
	sig := strings.Repeat("s", 32)
	h.mock.SetResponse(":streamGenerateContent", upstreamtest.MockResponse{
		StreamChunks: []string{
			`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"hmm","thought":true,"thoughtSignature":"` + sig + `"}]}}]}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"answer"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3}}}`,
		},
	})

	resp, err := h.dispatcher.Do(context.Background(), messagesRequest("claude-sonnet-4-5-thinking", "hi"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if len(resp.Content) != 2 {
		t.Fatalf("content = %+v, want thinking + text", resp.Content)
	}
	if resp.Content[0].Type != anthropic.BlockThinking || resp.Content[0].Signature != sig {
		t.Errorf("first block = %+v, want signed thinking", resp.Content[0])
	}
	if resp.Content[1].Type != anthropic.BlockText || resp.Content[1].Text != "answer" {
		t.Errorf("second block = %+v, want the answer text", resp.Content[1])
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v, want 7/3", resp.Usage)
	}
}

// collectSink gathers stream events for assertions.
type collectSink struct {
	events []*anthropic.StreamEvent
}

func (s *collectSink) Emit(e *anthropic.StreamEvent) error {
	s.events = append(s.events, e)
	return nil
}

func TestDispatcher_StreamReleasesSlot(t *testing.T) {
	h := newHarness(t, "a1")
	h.mock.SetResponse(":streamGenerateContent", upstreamtest.MockResponse{
		StreamChunks: []string{
			`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}}`,
		},
	})

	sink := &collectSink{}
	if err := h.dispatcher.DoStream(context.Background(), messagesRequest("gemini-2.5-flash", "hi"), sink); err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}

	if len(sink.events) == 0 {
		t.Fatal("expected stream events")
	}
	if sink.events[0].Type != anthropic.EventMessageStart {
		t.Errorf("first event = %q, want message_start", sink.events[0].Type)
	}
	if last := sink.events[len(sink.events)-1]; last.Type != anthropic.EventMessageStop {
		t.Errorf("last event = %q, want message_stop", last.Type)
	}

	if active := h.pool.Get("a1").Active(); active != 0 {
		t.Errorf("activeRequests = %d, want 0 after the stream", active)
	}
}

func TestDispatcher_FallbackChain(t *testing.T) {
	h := newHarness(t, "a1")
	h.cfg.Dispatch.AutoFallback = true
	h.cfg.Dispatch.MaxWaitBeforeErrorMs = 100
	h.cfg.Fallback = map[string]string{"gemini-3-pro-preview": "gemini-2.5-flash"}

	h.mock.SetResponse(":generateContent", upstreamtest.MockResponse{Body: unarySuccessBody("fallback served")})

	// The primary model is exhausted on the only account.
	h.pool.MarkRateLimited("a1",
		account.QuotaKey("gemini-3-pro-preview", account.ClassAntigravity),
		time.Now().Add(time.Hour).UnixMilli(), account.LimitTypeUser)

	resp, err := h.dispatcher.Do(context.Background(), messagesRequest("gemini-3-pro-preview", "hi"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Content[0].Text != "fallback served" {
		t.Errorf("content = %+v, want the fallback model's answer", resp.Content)
	}
}

func TestDispatcher_ModelMappingResolution(t *testing.T) {
	h := newHarness(t, "a1")
	h.cfg.ModelMapping = map[string]config.ModelMapping{
		"pretty-name": {Mapping: "gemini-2.5-flash"},
	}
	h.mock.SetResponse(":generateContent", upstreamtest.MockResponse{Body: unarySuccessBody("mapped")})

	resp, err := h.dispatcher.Do(context.Background(), messagesRequest("pretty-name", "hi"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	// The response echoes the requested model id, not the mapped one.
	if resp.Model != "pretty-name" {
		t.Errorf("model = %q, want the requested id", resp.Model)
	}
}

func TestDispatcher_NoAccountsFailsWithinWaitCap(t *testing.T) {
	h := newHarness(t) // zero accounts
	h.cfg.Dispatch.MaxWaitBeforeErrorMs = 1

	started := time.Now()
	_, err := h.dispatcher.Do(context.Background(), messagesRequest("gemini-2.5-flash", "hi"))
	if err == nil {
		t.Fatal("expected failure with an empty pool")
	}
	de, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if de.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", de.HTTPStatus)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("took %s, want prompt failure once the wait cap passes", elapsed)
	}
}

package translator

import (
	"strings"
	"testing"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/gemini"
	"mercator-hq/ganymede/pkg/sigcache"
)

func TestTranslateResponse_TextCandidate(t *testing.T) {
	tr := newTestTranslator(Options{})

	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: gemini.RoleModel, Parts: []gemini.Part{{Text: "hello"}}},
			FinishReason: gemini.FinishStop,
		}},
		UsageMetadata: &gemini.UsageMetadata{
			PromptTokenCount:        5,
			CandidatesTokenCount:    1,
			CachedContentTokenCount: 0,
		},
	}

	got, err := tr.TranslateResponse(resp, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("TranslateResponse() error = %v", err)
	}

	if len(got.Content) != 1 || got.Content[0].Type != anthropic.BlockText || got.Content[0].Text != "hello" {
		t.Errorf("content = %+v, want one text block %q", got.Content, "hello")
	}
	if got.StopReason != anthropic.StopEndTurn {
		t.Errorf("stop_reason = %q, want end_turn", got.StopReason)
	}
	if got.Usage.InputTokens != 5 || got.Usage.OutputTokens != 1 || got.Usage.CacheReadInputTokens != 0 {
		t.Errorf("usage = %+v, want 5/1/0", got.Usage)
	}
	if got.Role != anthropic.RoleAssistant || got.Type != "message" {
		t.Errorf("envelope fields wrong: role=%q type=%q", got.Role, got.Type)
	}
}

func TestTranslateResponse_CachedTokensSubtracted(t *testing.T) {
	tr := newTestTranslator(Options{})
	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content: &gemini.Content{Parts: []gemini.Part{{Text: "ok"}}},
		}},
		UsageMetadata: &gemini.UsageMetadata{
			PromptTokenCount:        100,
			CandidatesTokenCount:    10,
			CachedContentTokenCount: 60,
		},
	}

	got, err := tr.TranslateResponse(resp, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("TranslateResponse() error = %v", err)
	}
	if got.Usage.InputTokens != 40 {
		t.Errorf("input_tokens = %d, want 40 (prompt minus cached)", got.Usage.InputTokens)
	}
	if got.Usage.CacheReadInputTokens != 60 {
		t.Errorf("cache_read_input_tokens = %d, want 60", got.Usage.CacheReadInputTokens)
	}
}

func TestTranslateResponse_ReasoningAndToolCall(t *testing.T) {
	cache := sigcache.New("")
	tr := New(cache, Options{})
	sig := strings.Repeat("g", 48)

	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content: &gemini.Content{Parts: []gemini.Part{
				{Text: "let me think", Thought: true, ThoughtSignature: sig},
				{Text: "the answer"},
				{FunctionCall: &gemini.FunctionCall{ID: "t9", Name: "lookup", Args: []byte(`{"q":"x"}`)}, ThoughtSignature: sig},
			}},
			FinishReason: gemini.FinishStop,
		}},
	}

	got, err := tr.TranslateResponse(resp, "claude-opus-4-5-thinking", "-7")
	if err != nil {
		t.Fatalf("TranslateResponse() error = %v", err)
	}

	if got.Content[0].Type != anthropic.BlockThinking || got.Content[0].Signature != sig {
		t.Errorf("first block = %+v, want signed thinking", got.Content[0])
	}
	if got.Content[1].Type != anthropic.BlockText {
		t.Errorf("second block = %+v, want text", got.Content[1])
	}
	if got.Content[2].Type != anthropic.BlockToolUse || got.Content[2].ID != "t9" {
		t.Errorf("third block = %+v, want tool_use t9", got.Content[2])
	}

	// Presence of a tool call dominates the stop reason.
	if got.StopReason != anthropic.StopToolUse {
		t.Errorf("stop_reason = %q, want tool_use", got.StopReason)
	}

	// The signature must be cached under both the tool id and the session.
	if cached, ok := cache.ToolSignature("t9"); !ok || cached != sig {
		t.Error("tool signature not cached")
	}
	if cached, ok := cache.SessionSignature("-7"); !ok || cached != sig {
		t.Error("session signature not cached")
	}
	if family, ok := cache.FamilyOf(sig); !ok || family != sigcache.FamilyClaude {
		t.Errorf("signature family = %v, want claude", family)
	}
}

func TestTranslateResponse_SafetyBlock(t *testing.T) {
	tr := newTestTranslator(Options{})
	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			FinishReason: gemini.FinishSafety,
			SafetyRatings: []gemini.SafetyRating{
				{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Blocked: true},
			},
		}},
	}

	got, err := tr.TranslateResponse(resp, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("TranslateResponse() error = %v", err)
	}
	if got.StopReason != anthropic.StopEndTurn {
		t.Errorf("stop_reason = %q, want end_turn (filtered content is not an error)", got.StopReason)
	}
	if len(got.Content) != 1 || !strings.HasPrefix(got.Content[0].Text, "[Content blocked by safety filter:") {
		t.Errorf("content = %+v, want safety explanation", got.Content)
	}
	if !strings.Contains(got.Content[0].Text, "HARM_CATEGORY_DANGEROUS_CONTENT") {
		t.Error("blocked category missing from explanation")
	}
}

func TestTranslateResponse_StopReasons(t *testing.T) {
	tests := []struct {
		name   string
		finish string
		want   string
	}{
		{name: "stop", finish: gemini.FinishStop, want: anthropic.StopEndTurn},
		{name: "max tokens", finish: gemini.FinishMaxTokens, want: anthropic.StopMaxTokens},
		{name: "tool use", finish: gemini.FinishToolUse, want: anthropic.StopToolUse},
	}

	tr := newTestTranslator(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &gemini.Response{
				Candidates: []gemini.Candidate{{
					Content:      &gemini.Content{Parts: []gemini.Part{{Text: "x"}}},
					FinishReason: tt.finish,
				}},
			}
			got, err := tr.TranslateResponse(resp, "gemini-2.5-flash", "-1")
			if err != nil {
				t.Fatalf("TranslateResponse() error = %v", err)
			}
			if got.StopReason != tt.want {
				t.Errorf("stop_reason = %q, want %q", got.StopReason, tt.want)
			}
		})
	}
}

func TestTranslateResponse_NoCandidates(t *testing.T) {
	tr := newTestTranslator(Options{})
	if _, err := tr.TranslateResponse(&gemini.Response{}, "m", "-1"); err == nil {
		t.Error("expected error for empty candidate list")
	}
}

func TestRoundTrip_TextMessage(t *testing.T) {
	// Translate(A->G, then G->A) of a reasoning-free text exchange yields
	// structurally equivalent output.
	tr := newTestTranslator(Options{})

	req := simpleRequest("gemini-2.5-flash")
	greq, err := tr.BuildRequest(req, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	// Echo the user content back as a model response.
	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: gemini.RoleModel, Parts: greq.Contents[0].Parts},
			FinishReason: gemini.FinishStop,
		}},
	}
	back, err := tr.TranslateResponse(resp, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("TranslateResponse() error = %v", err)
	}
	if len(back.Content) != 1 || back.Content[0].Type != anthropic.BlockText || back.Content[0].Text != "hi" {
		t.Errorf("round trip produced %+v, want the original text block", back.Content)
	}
}

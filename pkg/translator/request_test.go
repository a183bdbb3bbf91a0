package translator

import (
	"strings"
	"testing"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/gemini"
	"mercator-hq/ganymede/pkg/sigcache"
)

func newTestTranslator(opts Options) *Translator {
	return New(sigcache.New(""), opts)
}

func simpleRequest(model string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     model,
		MaxTokens: 1024,
		Messages:  []anthropic.Message{userMsg("hi")},
	}
}

func TestBuildRequest_Basic(t *testing.T) {
	tr := newTestTranslator(Options{})

	got, err := tr.BuildRequest(simpleRequest("gemini-2.5-flash"), "gemini-2.5-flash", "-123")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	if len(got.Contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(got.Contents))
	}
	if got.Contents[0].Role != gemini.RoleUser {
		t.Errorf("role = %q, want user", got.Contents[0].Role)
	}
	if got.Contents[0].Parts[0].Text != "hi" {
		t.Errorf("text = %q, want hi", got.Contents[0].Parts[0].Text)
	}
	if got.SessionID != "-123" {
		t.Errorf("sessionId = %q, want -123", got.SessionID)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.MaxOutputTokens != 1024 {
		t.Error("generation config should carry max_tokens")
	}
	if got.SystemInstruction == nil {
		t.Fatal("identity preamble should produce a system instruction")
	}
	if !strings.Contains(got.SystemInstruction.Parts[0].Text, "[ignore]") {
		t.Error("identity preamble should carry the counter-statement")
	}
}

func TestBuildRequest_GPTFamilySkipsIdentityScrub(t *testing.T) {
	tr := newTestTranslator(Options{})

	got, err := tr.BuildRequest(simpleRequest("gpt-oss-120b"), "gpt-oss-120b", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	if got.SystemInstruction != nil {
		t.Error("GPT-family targets should get no identity preamble")
	}
}

func TestBuildRequest_SystemText(t *testing.T) {
	req := simpleRequest("gemini-2.5-flash")
	req.System = anthropic.SystemPrompt{anthropic.TextBlock("be terse")}

	tr := newTestTranslator(Options{})
	got, err := tr.BuildRequest(req, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	var found bool
	for _, p := range got.SystemInstruction.Parts {
		if strings.Contains(p.Text, "be terse") {
			found = true
		}
	}
	if !found {
		t.Error("client system text missing from system instruction")
	}
}

func TestBuildRequest_OrphanedToolResult(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "gemini-2.5-flash",
		MaxTokens: 512,
		Messages: []anthropic.Message{
			userMsg("go"),
			{
				Role: anthropic.RoleUser,
				Content: anthropic.BlockContent{
					{Type: anthropic.BlockToolResult, ToolUseID: "T", Content: anthropic.BlockContent{anthropic.TextBlock("done")}},
				},
			},
		},
	}

	tr := newTestTranslator(Options{})
	got, err := tr.BuildRequest(req, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	// The orphan must arrive as plain text, not a function response.
	second := got.Contents[1]
	if second.Parts[0].FunctionResponse != nil {
		t.Fatal("orphaned tool result must not become a function response")
	}
	if !strings.HasPrefix(second.Parts[0].Text, "[Orphaned Tool Result: T]") {
		t.Errorf("text = %q, want orphan prefix", second.Parts[0].Text)
	}
}

func TestBuildRequest_ToolLoopInvariants(t *testing.T) {
	input := []byte(`{"q":"x"}`)
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5-thinking",
		MaxTokens: 512,
		Messages: []anthropic.Message{
			userMsg("go"),
			{
				Role: anthropic.RoleAssistant,
				Content: anthropic.BlockContent{
					{Type: anthropic.BlockToolUse, ID: "t1", Name: "t", Input: input},
				},
			},
			// Interrupted: no tool result follows.
		},
	}

	tr := newTestTranslator(Options{})
	got, err := tr.BuildRequest(req, "claude-sonnet-4-5-thinking", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	// A synthetic closing turn must answer the open tool call.
	last := got.Contents[len(got.Contents)-1]
	if last.Role != gemini.RoleUser {
		t.Fatalf("closing turn role = %q, want user", last.Role)
	}
	if last.Parts[0].FunctionResponse == nil || last.Parts[0].FunctionResponse.ID != "t1" {
		t.Error("closing turn should carry the function response for t1")
	}

	// Every function response is immediately preceded by its call.
	for i, content := range got.Contents {
		for _, p := range content.Parts {
			if p.FunctionResponse == nil {
				continue
			}
			if i == 0 {
				t.Fatal("function response in first message")
			}
			var matched bool
			for _, prev := range got.Contents[i-1].Parts {
				if prev.FunctionCall != nil && prev.FunctionCall.ID == p.FunctionResponse.ID {
					matched = true
				}
			}
			if !matched {
				t.Errorf("function response %q not preceded by its call", p.FunctionResponse.ID)
			}
		}
	}
}

func TestBuildRequest_FirstMessageIsUser(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "gemini-2.5-flash",
		MaxTokens: 512,
		Messages:  []anthropic.Message{assistantMsg("hello there")},
	}

	tr := newTestTranslator(Options{})
	got, err := tr.BuildRequest(req, "gemini-2.5-flash", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	if got.Contents[0].Role != gemini.RoleUser {
		t.Errorf("first role = %q, want user", got.Contents[0].Role)
	}
}

func TestBuildRequest_EmptyPartsGuard(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 512,
		Messages: []anthropic.Message{
			userMsg("go"),
			{
				Role: anthropic.RoleAssistant,
				Content: anthropic.BlockContent{
					// Unsigned reasoning is filtered for claude targets,
					// leaving the message empty.
					{Type: anthropic.BlockThinking, Thinking: "pondering"},
				},
			},
			userMsg("and?"),
		},
	}

	tr := newTestTranslator(Options{})
	got, err := tr.BuildRequest(req, "claude-sonnet-4-5", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	for i, content := range got.Contents {
		if len(content.Parts) == 0 {
			t.Errorf("contents[%d] has empty parts", i)
		}
	}
	if got.Contents[1].Parts[0].Text != "." {
		t.Errorf("placeholder = %q, want period", got.Contents[1].Parts[0].Text)
	}
}

func TestBuildRequest_AssistantBlockReorder(t *testing.T) {
	sig := strings.Repeat("s", 32)
	req := &anthropic.MessagesRequest{
		Model:     "gemini-3-pro-preview",
		MaxTokens: 512,
		Messages: []anthropic.Message{
			userMsg("go"),
			{
				Role: anthropic.RoleAssistant,
				Content: anthropic.BlockContent{
					{Type: anthropic.BlockToolUse, ID: "t1", Name: "t", Input: []byte(`{}`)},
					anthropic.TextBlock("answer"),
					{Type: anthropic.BlockThinking, Thinking: "because", Signature: sig},
				},
			},
			{
				Role: anthropic.RoleUser,
				Content: anthropic.BlockContent{
					{Type: anthropic.BlockToolResult, ToolUseID: "t1", Content: anthropic.BlockContent{anthropic.TextBlock("ok")}},
				},
			},
		},
	}

	tr := newTestTranslator(Options{})
	got, err := tr.BuildRequest(req, "gemini-3-pro-preview", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	parts := got.Contents[1].Parts
	if !parts[0].Thought {
		t.Error("reasoning should come first after reorder")
	}
	if parts[1].Text != "answer" {
		t.Errorf("text should follow reasoning, got %+v", parts[1])
	}
	if parts[2].FunctionCall == nil {
		t.Error("tool call should come last")
	}
}

func TestBuildRequest_ToolsAndThinkingConfig(t *testing.T) {
	budget := 4096
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5-thinking",
		MaxTokens: 2048,
		Messages:  []anthropic.Message{userMsg("go")},
		Thinking:  &anthropic.ThinkingConfig{Type: "enabled", BudgetTokens: budget},
		Tools: []anthropic.Tool{{
			Name:        "t",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}},
		}},
	}

	tr := newTestTranslator(Options{})
	got, err := tr.BuildRequest(req, "claude-sonnet-4-5-thinking", "-1")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	if len(got.Tools) != 1 || len(got.Tools[0].FunctionDeclarations) != 1 {
		t.Fatal("tool declaration missing")
	}
	if got.ToolConfig == nil || got.ToolConfig.FunctionCallingConfig.Mode != "VALIDATED" {
		t.Error("tool config should force validated calling")
	}

	tc := got.GenerationConfig.ThinkingConfig
	if tc == nil || !tc.IncludeThoughts {
		t.Fatal("thinking config missing")
	}
	if tc.ThinkingBudget == nil || *tc.ThinkingBudget != budget {
		t.Errorf("thinking budget = %v, want %d", tc.ThinkingBudget, budget)
	}
	// max_tokens <= budget must be raised above the budget.
	if got.GenerationConfig.MaxOutputTokens != budget+8192 {
		t.Errorf("max_tokens = %d, want %d", got.GenerationConfig.MaxOutputTokens, budget+8192)
	}
}

func TestBuildRequest_SignatureRestoreFromSessionCache(t *testing.T) {
	cache := sigcache.New("")
	sig := strings.Repeat("r", 40)
	cache.StoreSessionSignature("-55", sig)
	tr := New(cache, Options{})

	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5-thinking",
		MaxTokens: 512,
		Messages: []anthropic.Message{
			userMsg("go"),
			{
				Role: anthropic.RoleAssistant,
				Content: anthropic.BlockContent{
					{Type: anthropic.BlockThinking, Thinking: "stripped by client"},
					anthropic.TextBlock("answer"),
				},
			},
			userMsg("next"),
		},
	}

	got, err := tr.BuildRequest(req, "claude-sonnet-4-5-thinking", "-55")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	parts := got.Contents[1].Parts
	if !parts[0].Thought || parts[0].ThoughtSignature != sig {
		t.Errorf("restored signature = %q, want cached value", parts[0].ThoughtSignature)
	}
}

package translator

import (
	"strings"
	"testing"

	"mercator-hq/ganymede/pkg/anthropic"
)

func userMsg(text string) anthropic.Message {
	return anthropic.Message{Role: anthropic.RoleUser, Content: anthropic.BlockContent{anthropic.TextBlock(text)}}
}

func assistantMsg(text string) anthropic.Message {
	return anthropic.Message{Role: anthropic.RoleAssistant, Content: anthropic.BlockContent{anthropic.TextBlock(text)}}
}

func TestTruncateHistory_NoBudgetKeepsAll(t *testing.T) {
	messages := []anthropic.Message{userMsg("a"), assistantMsg("b"), userMsg("c")}
	got := truncateHistory(messages, 0)
	if len(got) != 3 {
		t.Errorf("kept %d messages, want 3", len(got))
	}
}

func TestTruncateHistory_KeepsNewestFirst(t *testing.T) {
	big := strings.Repeat("x", 4000) // ~1000 tokens each
	messages := []anthropic.Message{
		userMsg(big),
		assistantMsg(big),
		userMsg("recent question"),
	}

	got := truncateHistory(messages, 200)
	if len(got) != 1 {
		t.Fatalf("kept %d messages, want 1", len(got))
	}
	if got[0].Content[0].Text != "recent question" {
		t.Errorf("kept %q, want the newest message", got[0].Content[0].Text)
	}
}

func TestTruncateHistory_ToolResultRescue(t *testing.T) {
	big := strings.Repeat("x", 4000)
	call := anthropic.Message{
		Role: anthropic.RoleAssistant,
		Content: anthropic.BlockContent{
			{Type: anthropic.BlockToolUse, ID: "t1", Name: "t", Input: []byte(`{}`)},
			anthropic.TextBlock(big),
		},
	}
	result := anthropic.Message{
		Role: anthropic.RoleUser,
		Content: anthropic.BlockContent{
			{Type: anthropic.BlockToolResult, ToolUseID: "t1", Content: anthropic.BlockContent{anthropic.TextBlock("done")}},
		},
	}
	messages := []anthropic.Message{userMsg(big), call, result}

	// Budget covers only the result, but the matching call must survive
	// with it even though it overflows, and the user opener rides along
	// so the conversation still starts on the user role.
	got := truncateHistory(messages, 50)
	if len(got) != 3 {
		t.Fatalf("kept %d messages, want opener + tool call + result", len(got))
	}
	if got[0].Role != anthropic.RoleUser {
		t.Errorf("first kept role = %q, want user", got[0].Role)
	}
	if got[1].Content[0].Type != anthropic.BlockToolUse {
		t.Errorf("second kept message should carry the tool call, got %q", got[1].Content[0].Type)
	}
}

func TestTruncateHistory_FirstRoleRescue(t *testing.T) {
	big := strings.Repeat("x", 4000)
	messages := []anthropic.Message{
		userMsg("old question"),
		assistantMsg(big),
		userMsg("tail"),
	}

	// The budget admits the tail and the assistant turn; the preceding
	// user message rides along so the conversation opens on the user.
	got := truncateHistory(messages, 1020)
	if got[0].Role != anthropic.RoleUser {
		t.Errorf("first kept role = %q, want user", got[0].Role)
	}
}

func TestTruncateHistory_Monotone(t *testing.T) {
	messages := []anthropic.Message{
		userMsg(strings.Repeat("a", 400)),
		assistantMsg(strings.Repeat("b", 400)),
		userMsg(strings.Repeat("c", 400)),
		assistantMsg(strings.Repeat("d", 400)),
		userMsg(strings.Repeat("e", 400)),
	}

	small := truncateHistory(messages, 250)
	large := truncateHistory(messages, 1000)

	if len(small) > len(large) {
		t.Fatalf("smaller budget kept more messages (%d) than larger (%d)", len(small), len(large))
	}
	// The suffix kept under the small budget must be a suffix of the
	// larger keep.
	offset := len(large) - len(small)
	for i := range small {
		if small[i].Content[0].Text != large[offset+i].Content[0].Text {
			t.Errorf("kept suffix mismatch at %d", i)
		}
	}
}

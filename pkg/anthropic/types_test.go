package anthropic

import (
	"encoding/json"
	"testing"
)

func TestBlockContent_UnmarshalString(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg); err != nil {
		t.Fatal(err)
	}
	if len(msg.Content) != 1 || msg.Content[0].Type != BlockText || msg.Content[0].Text != "hello" {
		t.Errorf("content = %+v, want one text block", msg.Content)
	}
}

func TestBlockContent_UnmarshalBlocks(t *testing.T) {
	raw := `{"role":"assistant","content":[
		{"type":"thinking","thinking":"hmm","signature":"sigsigsigsigsigsig"},
		{"type":"text","text":"answer"},
		{"type":"tool_use","id":"t1","name":"look","input":{"q":"x"}}
	]}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}
	if len(msg.Content) != 3 {
		t.Fatalf("blocks = %d, want 3", len(msg.Content))
	}
	if msg.Content[0].Type != BlockThinking || msg.Content[0].Thinking != "hmm" {
		t.Errorf("first block = %+v", msg.Content[0])
	}
	if msg.Content[2].Type != BlockToolUse || msg.Content[2].ID != "t1" {
		t.Errorf("third block = %+v", msg.Content[2])
	}
	if string(msg.Content[2].Input) != `{"q":"x"}` {
		t.Errorf("input = %s", msg.Content[2].Input)
	}
}

func TestBlockContent_NestedToolResult(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"done"}]}
	]}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}
	block := msg.Content[0]
	if block.ToolUseID != "t1" {
		t.Errorf("tool_use_id = %q", block.ToolUseID)
	}
	if len(block.Content) != 1 || block.Content[0].Text != "done" {
		t.Errorf("nested content = %+v", block.Content)
	}
}

func TestBlockContent_ToolResultStringContent(t *testing.T) {
	raw := `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"plain"}]}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Content[0].Content[0].Text != "plain" {
		t.Errorf("nested string content = %+v", msg.Content[0].Content)
	}
}

func TestSystemPrompt_BothForms(t *testing.T) {
	var req MessagesRequest
	if err := json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"system":"be brief"}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.System.Text() != "be brief" {
		t.Errorf("system text = %q", req.System.Text())
	}

	var req2 MessagesRequest
	raw := `{"model":"m","max_tokens":1,"messages":[],"system":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`
	if err := json.Unmarshal([]byte(raw), &req2); err != nil {
		t.Fatal(err)
	}
	if req2.System.Text() != "a\nb" {
		t.Errorf("system text = %q, want joined blocks", req2.System.Text())
	}
}

func TestChatMessage_TextContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "string", raw: `{"role":"user","content":"hi"}`, want: "hi"},
		{
			name: "part list",
			raw:  `{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"b"}]}`,
			want: "a\nb",
		},
		{name: "null", raw: `{"role":"user","content":null}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg ChatMessage
			if err := json.Unmarshal([]byte(tt.raw), &msg); err != nil {
				t.Fatal(err)
			}
			got, err := msg.TextContent()
			if err != nil {
				t.Fatalf("TextContent() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("TextContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessagesRequest_RoundTripEncode(t *testing.T) {
	req := MessagesRequest{
		Model:     "m",
		MaxTokens: 10,
		Messages: []Message{
			{Role: RoleUser, Content: BlockContent{TextBlock("hi")}},
		},
	}
	data, err := json.Marshal(&req)
	if err != nil {
		t.Fatal(err)
	}

	var back MessagesRequest
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Messages[0].Content[0].Text != "hi" {
		t.Errorf("round trip lost content: %+v", back.Messages[0])
	}
}

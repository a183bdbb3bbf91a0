package relay

import (
	"context"
	"strings"
	"testing"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/sigcache"
)

// captureSink records emitted events in order.
type captureSink struct {
	events []*anthropic.StreamEvent
}

func (s *captureSink) Emit(event *anthropic.StreamEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) types() []string {
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		t := e.Type
		if e.Type == anthropic.EventContentBlockDelta && e.Delta != nil {
			t = t + ":" + e.Delta.Type
		}
		out = append(out, t)
	}
	return out
}

func runRelay(t *testing.T, model string, chunks []string) (*captureSink, *Relay) {
	t.Helper()
	sink := &captureSink{}
	r := New(sigcache.New(""), model, "-1", sink)

	var sse strings.Builder
	for _, c := range chunks {
		sse.WriteString("data: ")
		sse.WriteString(c)
		sse.WriteString("\n\n")
	}
	sse.WriteString("data: [DONE]\n\n")

	if err := r.Run(context.Background(), strings.NewReader(sse.String())); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return sink, r
}

func TestRelay_TextStream(t *testing.T) {
	sink, _ := runRelay(t, "gemini-2.5-flash", []string{
		`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":1}}}`,
	})

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta:text_delta",
		"content_block_delta:text_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("event trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Terminal usage is accumulated from usageMetadata.
	var messageDelta *anthropic.StreamEvent
	for _, e := range sink.events {
		if e.Type == anthropic.EventMessageDelta {
			messageDelta = e
		}
	}
	if messageDelta.Usage == nil || messageDelta.Usage.InputTokens != 5 || messageDelta.Usage.OutputTokens != 1 {
		t.Errorf("message_delta usage = %+v, want 5/1", messageDelta.Usage)
	}
	if messageDelta.Delta.StopReason != anthropic.StopEndTurn {
		t.Errorf("stop_reason = %q, want end_turn", messageDelta.Delta.StopReason)
	}
}

func TestRelay_ReasoningThenToolCall(t *testing.T) {
	sig := strings.Repeat("s", 32)
	sink, _ := runRelay(t, "claude-sonnet-4-5-thinking", []string{
		`{"response":{"candidates":[{"content":{"parts":[{"text":"thinking a","thought":true}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":" bit","thought":true,"thoughtSignature":"` + sig + `"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"t","args":{"q":"x"}},"thoughtSignature":"` + sig + `"}]},"finishReason":"STOP"}]}}`,
	})

	want := []string{
		"message_start",
		"content_block_start", // reasoning
		"content_block_delta:thinking_delta",
		"content_block_delta:thinking_delta",
		"content_block_delta:signature_delta",
		"content_block_stop",
		"content_block_start", // tool call
		"content_block_delta:input_json_delta",
		"content_block_delta:input_json_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("event trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Block indices strictly increase; stop precedes the next start.
	if *sink.events[1].Index != 0 || *sink.events[6].Index != 1 {
		t.Error("block indices should be 0 then 1")
	}

	// The argument fragments reassemble the call arguments.
	var args string
	for _, e := range sink.events {
		if e.Type == anthropic.EventContentBlockDelta && e.Delta.Type == anthropic.DeltaInputJSON {
			args += e.Delta.PartialJSON
		}
	}
	if args != `{"q":"x"}` {
		t.Errorf("reassembled args = %q, want {\"q\":\"x\"}", args)
	}

	// The terminal frame reports tool use.
	var messageDelta *anthropic.StreamEvent
	for _, e := range sink.events {
		if e.Type == anthropic.EventMessageDelta {
			messageDelta = e
		}
	}
	if messageDelta.Delta.StopReason != anthropic.StopToolUse {
		t.Errorf("stop_reason = %q, want tool_use", messageDelta.Delta.StopReason)
	}
}

func TestRelay_ToolSignatureCached(t *testing.T) {
	sig := strings.Repeat("q", 40)
	cache := sigcache.New("")
	sink := &captureSink{}
	r := New(cache, "claude-sonnet-4-5-thinking", "-1", sink)

	sse := `data: {"response":{"candidates":[{"content":{"parts":[{"functionCall":{"id":"call-1","name":"t","args":{}},"thoughtSignature":"` + sig + `"}]},"finishReason":"STOP"}]}}` + "\n\ndata: [DONE]\n\n"
	if err := r.Run(context.Background(), strings.NewReader(sse)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cached, ok := cache.ToolSignature("call-1"); !ok || cached != sig {
		t.Error("tool-call signature not cached")
	}
}

func TestRelay_EmptyStreamStillCompletes(t *testing.T) {
	sink, _ := runRelay(t, "gemini-2.5-flash", nil)

	got := sink.types()
	want := []string{"message_start", "message_delta", "message_stop"}
	if len(got) != len(want) {
		t.Fatalf("event trace = %v, want %v", got, want)
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "object splits after first colon", in: `{"q":"x"}`, want: []string{`{"q":`, `"x"}`}},
		{name: "empty object stays whole", in: `{}`, want: []string{`{}`}},
		{name: "colon inside string ignored", in: `{"a:b":1}`, want: []string{`{"a:b":`, `1}`}},
		{name: "nested colon not split point", in: `{"a":{"b":2}}`, want: []string{`{"a":`, `{"b":2}}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitArgs(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("splitArgs(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("fragment[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

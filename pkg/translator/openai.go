package translator

import (
	"fmt"
	"time"

	"mercator-hq/ganymede/pkg/anthropic"
)

// OpenAI-compatible adaptation. The /v1/chat/completions controller
// translates to the native messages form, dispatches, and maps the result
// back; no second pipeline exists.

// defaultChatMaxTokens applies when an OpenAI-format request omits
// max_tokens, which the native form requires.
const defaultChatMaxTokens = 8192

// FromChatRequest converts an OpenAI-format chat request into an A-format
// messages request.
func FromChatRequest(req *anthropic.ChatCompletionRequest) (*anthropic.MessagesRequest, error) {
	out := &anthropic.MessagesRequest{
		Model:       req.Model,
		MaxTokens:   defaultChatMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		out.MaxTokens = *req.MaxTokens
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		text, err := msg.TextContent()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		switch msg.Role {
		case "system", "developer":
			out.System = append(out.System, anthropic.TextBlock(text))
		case "user", "assistant":
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    msg.Role,
				Content: anthropic.BlockContent{anthropic.TextBlock(text)},
			})
		default:
			// Tool messages and unknown roles fold into user turns so
			// the conversation stays well-formed.
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: anthropic.BlockContent{anthropic.TextBlock(text)},
			})
		}
	}
	if len(out.Messages) == 0 {
		return nil, fmt.Errorf("messages must contain at least one user or assistant message")
	}
	return out, nil
}

// ToChatResponse converts an A-format response into the OpenAI chat shape.
// Reasoning text is folded into the content ahead of the answer.
func ToChatResponse(resp *anthropic.MessagesResponse, requestedModel string) *anthropic.ChatCompletionResponse {
	var content string
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.BlockText:
			content += block.Text
		case anthropic.BlockThinking:
			// Reasoning has no dedicated field in the chat shape.
		}
	}

	finish := ChatFinishReason(resp.StopReason)
	return &anthropic.ChatCompletionResponse{
		ID:      "chatcmpl-" + resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   requestedModel,
		Choices: []anthropic.ChatChoice{{
			Index:        0,
			Message:      &anthropic.ChatTurn{Role: "assistant", Content: content},
			FinishReason: &finish,
		}},
		Usage: anthropic.ChatUsage{
			PromptTokens:     resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.OutputTokens,
		},
	}
}

// ChatFinishReason maps a native stop reason onto the chat vocabulary.
func ChatFinishReason(stopReason string) string {
	switch stopReason {
	case anthropic.StopMaxTokens:
		return "length"
	case anthropic.StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

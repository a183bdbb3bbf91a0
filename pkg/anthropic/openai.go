package anthropic

import (
	"encoding/json"
	"fmt"
)

// OpenAI-compatible chat types for the /v1/chat/completions surface. The
// handler translates these to the native messages form before dispatch.

// ChatCompletionRequest is the widely-compatible chat request body.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

// ChatMessage is one OpenAI-format conversation turn. Content may be a
// string or a multimodal part list; only text parts are consumed.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TextContent extracts the text of the message content.
func (m *ChatMessage) TextContent() (string, error) {
	if len(m.Content) == 0 {
		return "", nil
	}
	var str string
	if err := json.Unmarshal(m.Content, &str); err == nil {
		return str, nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return "", fmt.Errorf("content must be a string or a part list: %w", err)
	}
	var out string
	for _, p := range parts {
		if p.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out, nil
}

// ChatCompletionResponse is the non-streaming OpenAI-format response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// ChatChoice is a single completion choice.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      *ChatTurn       `json:"message,omitempty"`
	Delta        *ChatTurn       `json:"delta,omitempty"`
	FinishReason *string         `json:"finish_reason"`
	LogProbs     json.RawMessage `json:"logprobs,omitempty"`
}

// ChatTurn is a message or delta body in a choice.
type ChatTurn struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatUsage is OpenAI-format token accounting.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streaming SSE frame.
type ChatCompletionChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ModelList is the GET /v1/models response body.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo is one entry in the model list.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

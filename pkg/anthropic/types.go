package anthropic

import (
	"encoding/json"
	"fmt"
)

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block type constants.
const (
	BlockText             = "text"
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
	BlockToolUse          = "tool_use"
	BlockToolResult       = "tool_result"
	BlockImage            = "image"
	BlockDocument         = "document"
)

// Stop reason constants.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// MessagesRequest is the client-facing chat request body (POST /v1/messages).
type MessagesRequest struct {
	// Model is the requested model id. It may be an alias that the model
	// mapping resolves before dispatch.
	Model string `json:"model"`

	// Messages is the conversation history, oldest first.
	Messages []Message `json:"messages"`

	// System is the system prompt: either a plain string or a list of
	// text blocks.
	System SystemPrompt `json:"system,omitempty"`

	// MaxTokens is the generation cap. Required by the wire format.
	MaxTokens int `json:"max_tokens"`

	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`

	// Stream selects SSE delivery.
	Stream bool `json:"stream,omitempty"`

	// Tools declares callable functions with JSON-schema inputs.
	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice is passed through opaquely ("auto", "any", or a named tool).
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	// Thinking enables extended reasoning with a token budget.
	Thinking *ThinkingConfig `json:"thinking,omitempty"`

	// Metadata carries an optional caller identity tag. It participates in
	// session derivation but is never forwarded upstream.
	Metadata *RequestMetadata `json:"metadata,omitempty"`
}

// RequestMetadata is the optional metadata object on a request.
type RequestMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// ThinkingConfig enables reasoning blocks in the response.
type ThinkingConfig struct {
	// Type is "enabled" or "disabled".
	Type string `json:"type"`

	// BudgetTokens is the reasoning token budget when enabled.
	BudgetTokens int `json:"budget_tokens,omitempty"`
}

// Tool declares a callable function.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is one conversation turn. Content is either a plain string or a
// list of content blocks; both forms decode into Content.
type Message struct {
	Role    string       `json:"role"`
	Content BlockContent `json:"content"`
}

// SystemPrompt is the system field: a string or a list of text blocks.
type SystemPrompt []ContentBlock

// UnmarshalJSON accepts both the string and the block-list form.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			*s = nil
			return nil
		}
		*s = SystemPrompt{{Type: BlockText, Text: str}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or a block list: %w", err)
	}
	*s = SystemPrompt(blocks)
	return nil
}

// Text concatenates the text of all blocks in the system prompt.
func (s SystemPrompt) Text() string {
	var out string
	for _, b := range s {
		if b.Type == BlockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// BlockContent is message content: a string or a list of content blocks.
// A string decodes to a single text block.
type BlockContent []ContentBlock

// UnmarshalJSON accepts both the string and the block-list form.
func (c *BlockContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = BlockContent{{Type: BlockText, Text: str}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or a block list: %w", err)
	}
	*c = BlockContent(blocks)
	return nil
}

// ContentBlock is the tagged content variant. Type selects which fields are
// meaningful; unused fields stay zero and are omitted on encode.
type ContentBlock struct {
	Type string `json:"type"`

	// Text carries "text" block content.
	Text string `json:"text,omitempty"`

	// Thinking and Signature carry "thinking" block content. Signature is
	// the opaque upstream bytestring that must be replayed unchanged.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Data carries "redacted_thinking" content (signature with no text).
	Data string `json:"data,omitempty"`

	// ID, Name, Input carry "tool_use" blocks.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content, IsError carry "tool_result" blocks. Content is
	// itself a string or a nested block list.
	ToolUseID string       `json:"tool_use_id,omitempty"`
	Content   BlockContent `json:"content,omitempty"`
	IsError   bool         `json:"is_error,omitempty"`

	// Source carries "image" and "document" blocks.
	Source *Source `json:"source,omitempty"`

	// Citations is grounding metadata attached to text blocks.
	Citations []Citation `json:"citations,omitempty"`
}

// Source is the payload of an image or document block.
type Source struct {
	// Type is "base64" or "url".
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Citation is a retrieved-source reference attached to generated text.
type Citation struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// TextBlock builds a plain text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// MessagesResponse is the non-streaming response body.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage is token accounting for one request.
type Usage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// ErrorResponse is the error envelope returned on non-2xx statuses.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(errType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	}
}

package anthropic

// Streaming event type constants. Events are emitted on the client-facing
// SSE stream in the order defined by the relay.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Delta type constants.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaSignature = "signature_delta"
	DeltaInputJSON = "input_json_delta"
)

// StreamEvent is one client-facing SSE event. The Type field selects which
// of the optional payloads is present.
type StreamEvent struct {
	Type string `json:"type"`

	// Message is present on message_start.
	Message *MessagesResponse `json:"message,omitempty"`

	// Index addresses the content block for block-scoped events.
	Index *int `json:"index,omitempty"`

	// ContentBlock is present on content_block_start.
	ContentBlock *ContentBlock `json:"content_block,omitempty"`

	// Delta is present on content_block_delta and message_delta.
	Delta *StreamDelta `json:"delta,omitempty"`

	// Usage is present on message_delta.
	Usage *Usage `json:"usage,omitempty"`

	// Error is present on error events.
	Error *ErrorDetail `json:"error,omitempty"`
}

// StreamDelta is the incremental payload of a delta event.
type StreamDelta struct {
	Type string `json:"type,omitempty"`

	// Text carries text_delta content.
	Text string `json:"text,omitempty"`

	// Thinking and Signature carry thinking_delta and signature_delta.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// PartialJSON carries input_json_delta fragments.
	PartialJSON string `json:"partial_json,omitempty"`

	// StopReason and StopSequence are set on the message_delta event.
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

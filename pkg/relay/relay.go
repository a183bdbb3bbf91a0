package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/gemini"
	"mercator-hq/ganymede/pkg/sigcache"
	"mercator-hq/ganymede/pkg/translator"
)

// Sink receives client-facing stream events in emission order. The relay
// is single-threaded per connection; implementations see events exactly as
// ordered here and need no locking of their own.
type Sink interface {
	Emit(event *anthropic.StreamEvent) error
}

// scannerBuffer bounds one upstream SSE line. Inline images arrive base64
// encoded inside a single line, so the ceiling is generous.
const scannerBuffer = 16 * 1024 * 1024

// block kinds tracked by the relay state machine.
const (
	blockNone = iota
	blockText
	blockThinking
	blockTool
)

// Relay consumes upstream SSE and emits A-format stream events.
//
// Ordering guarantees: block indices are strictly increasing, a
// content_block_stop always precedes the next content_block_start, and
// message_delta/message_stop close the stream exactly once.
type Relay struct {
	cache     *sigcache.Cache
	sink      Sink
	model     string
	sessionID string
	family    sigcache.Family

	started    bool
	blockIndex int
	blockKind  int

	// pendingSignature is emitted as a signature_delta when the current
	// thinking block closes.
	pendingSignature string

	usage        gemini.UsageMetadata
	finishReason string
	hasToolCall  bool
	stopped      bool
}

// New creates a relay for one streaming request.
func New(cache *sigcache.Cache, requestedModel, sessionID string, sink Sink) *Relay {
	family := sigcache.FamilyGemini
	if translator.Family(requestedModel) == translator.FamilyClaude {
		family = sigcache.FamilyClaude
	}
	return &Relay{
		cache:      cache,
		sink:       sink,
		model:      requestedModel,
		sessionID:  sessionID,
		family:     family,
		blockIndex: -1,
		blockKind:  blockNone,
	}
}

// Run reads the upstream SSE body until [DONE], EOF, or cancellation, and
// emits the client event sequence. The caller owns body and closes it;
// closing it is also how cancellation interrupts the read.
func (r *Relay) Run(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), scannerBuffer)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			break
		}

		var envelope gemini.ResponseEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			slog.Debug("skipping unparseable stream chunk", "error", err)
			continue
		}
		if err := r.handleChunk(envelope.Unwrap()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		// Headers are long gone; the error travels as an event.
		r.EmitError("upstream_error", err.Error())
		return err
	}

	return r.finish()
}

// handleChunk processes one upstream response chunk.
func (r *Relay) handleChunk(resp *gemini.Response) error {
	if !r.started {
		r.started = true
		if err := r.emitMessageStart(); err != nil {
			return err
		}
	}

	if resp.UsageMetadata != nil {
		r.usage = *resp.UsageMetadata
	}
	if len(resp.Candidates) == 0 {
		return nil
	}
	candidate := &resp.Candidates[0]
	if candidate.FinishReason != "" {
		r.finishReason = candidate.FinishReason
	}
	if candidate.Content == nil {
		return nil
	}

	for i := range candidate.Content.Parts {
		if err := r.handlePart(&candidate.Content.Parts[i]); err != nil {
			return err
		}
	}
	return nil
}

// handlePart advances the block state machine for one part.
func (r *Relay) handlePart(p *gemini.Part) error {
	switch {
	case p.FunctionCall != nil:
		return r.handleFunctionCall(p)

	case p.Thought:
		if err := r.ensureBlock(blockThinking, &anthropic.ContentBlock{Type: anthropic.BlockThinking}); err != nil {
			return err
		}
		if p.Text != "" {
			if err := r.emitDelta(&anthropic.StreamDelta{Type: anthropic.DeltaThinking, Thinking: p.Text}); err != nil {
				return err
			}
		}
		if sigcache.Valid(p.ThoughtSignature) {
			r.pendingSignature = p.ThoughtSignature
			r.cache.StoreFamily(p.ThoughtSignature, r.family)
			r.cache.StoreSessionSignature(r.sessionID, p.ThoughtSignature)
		}
		return nil

	case p.Text != "":
		if err := r.ensureBlock(blockText, &anthropic.ContentBlock{Type: anthropic.BlockText}); err != nil {
			return err
		}
		return r.emitDelta(&anthropic.StreamDelta{Type: anthropic.DeltaText, Text: p.Text})

	default:
		return nil
	}
}

// handleFunctionCall opens a tool block and streams the argument JSON.
func (r *Relay) handleFunctionCall(p *gemini.Part) error {
	call := p.FunctionCall
	id := call.ID
	if id == "" {
		id = fmt.Sprintf("toolu_%s_%d", r.sessionID, r.blockIndex+1)
	}
	r.hasToolCall = true

	if err := r.closeBlock(); err != nil {
		return err
	}
	start := &anthropic.ContentBlock{
		Type:  anthropic.BlockToolUse,
		ID:    id,
		Name:  call.Name,
		Input: json.RawMessage(`{}`),
	}
	if err := r.openBlock(blockTool, start); err != nil {
		return err
	}

	args := string(call.Args)
	if args == "" {
		args = "{}"
	}
	for _, fragment := range splitArgs(args) {
		if err := r.emitDelta(&anthropic.StreamDelta{Type: anthropic.DeltaInputJSON, PartialJSON: fragment}); err != nil {
			return err
		}
	}

	if sigcache.Valid(p.ThoughtSignature) {
		r.cache.StoreToolSignature(id, p.ThoughtSignature)
		r.cache.StoreFamily(p.ThoughtSignature, r.family)
	}
	return r.closeBlock()
}

// splitArgs splits serialized arguments into the fragments clients expect:
// the key prefix up to the first top-level colon, then the remainder.
func splitArgs(args string) []string {
	if len(args) <= 2 {
		return []string{args}
	}
	depth := 0
	inString := false
	for i := 0; i < len(args); i++ {
		c := args[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
		case c == ':' && depth == 1:
			return []string{args[:i+1], args[i+1:]}
		}
	}
	return []string{args}
}

// ensureBlock keeps the current block if the kind matches, otherwise closes
// it and opens a new one.
func (r *Relay) ensureBlock(kind int, start *anthropic.ContentBlock) error {
	if r.blockKind == kind {
		return nil
	}
	if err := r.closeBlock(); err != nil {
		return err
	}
	return r.openBlock(kind, start)
}

func (r *Relay) openBlock(kind int, start *anthropic.ContentBlock) error {
	r.blockIndex++
	r.blockKind = kind
	idx := r.blockIndex
	return r.sink.Emit(&anthropic.StreamEvent{
		Type:         anthropic.EventContentBlockStart,
		Index:        &idx,
		ContentBlock: start,
	})
}

// closeBlock emits the pending signature_delta (for thinking blocks) and
// the content_block_stop.
func (r *Relay) closeBlock() error {
	if r.blockKind == blockNone {
		return nil
	}
	if r.blockKind == blockThinking && r.pendingSignature != "" {
		if err := r.emitDelta(&anthropic.StreamDelta{Type: anthropic.DeltaSignature, Signature: r.pendingSignature}); err != nil {
			return err
		}
		r.pendingSignature = ""
	}
	idx := r.blockIndex
	r.blockKind = blockNone
	return r.sink.Emit(&anthropic.StreamEvent{
		Type:  anthropic.EventContentBlockStop,
		Index: &idx,
	})
}

func (r *Relay) emitDelta(delta *anthropic.StreamDelta) error {
	idx := r.blockIndex
	return r.sink.Emit(&anthropic.StreamEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: &idx,
		Delta: delta,
	})
}

func (r *Relay) emitMessageStart() error {
	return r.sink.Emit(&anthropic.StreamEvent{
		Type: anthropic.EventMessageStart,
		Message: &anthropic.MessagesResponse{
			ID:      translator.NewMessageID(),
			Type:    "message",
			Role:    anthropic.RoleAssistant,
			Model:   r.model,
			Content: []anthropic.ContentBlock{},
			Usage:   anthropic.Usage{},
		},
	})
}

// finish closes any open block and emits the terminal events.
func (r *Relay) finish() error {
	if r.stopped {
		return nil
	}
	r.stopped = true

	if !r.started {
		// No upstream events at all; still give the client a complete,
		// empty message.
		if err := r.emitMessageStart(); err != nil {
			return err
		}
	}
	if err := r.closeBlock(); err != nil {
		return err
	}

	stopReason := anthropic.StopEndTurn
	if r.hasToolCall {
		stopReason = anthropic.StopToolUse
	} else if r.finishReason == gemini.FinishMaxTokens {
		stopReason = anthropic.StopMaxTokens
	}

	usage := usageFromMetadata(&r.usage)
	if err := r.sink.Emit(&anthropic.StreamEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: &anthropic.StreamDelta{StopReason: stopReason},
		Usage: &usage,
	}); err != nil {
		return err
	}
	return r.sink.Emit(&anthropic.StreamEvent{Type: anthropic.EventMessageStop})
}

// Usage returns the accumulated usage metadata.
func (r *Relay) Usage() anthropic.Usage {
	return usageFromMetadata(&r.usage)
}

// EmitError sends a terminal error event. Used for failures after response
// headers are already out, when the HTTP status can no longer change.
func (r *Relay) EmitError(kind, message string) {
	if err := r.sink.Emit(&anthropic.StreamEvent{
		Type:  anthropic.EventError,
		Error: &anthropic.ErrorDetail{Type: kind, Message: message},
	}); err != nil {
		slog.Debug("failed to emit stream error event", "error", err)
	}
}

// EmitPing sends a keep-alive ping, used for wait-progress updates.
func (r *Relay) EmitPing() error {
	return r.sink.Emit(&anthropic.StreamEvent{Type: anthropic.EventPing})
}

func usageFromMetadata(um *gemini.UsageMetadata) anthropic.Usage {
	input := um.PromptTokenCount - um.CachedContentTokenCount
	if input < 0 {
		input = 0
	}
	return anthropic.Usage{
		InputTokens:          input,
		OutputTokens:         um.CandidatesTokenCount,
		CacheReadInputTokens: um.CachedContentTokenCount,
	}
}

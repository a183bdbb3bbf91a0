package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/dispatch"
	"mercator-hq/ganymede/pkg/proxy/middleware"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/translator"
)

// ChatHandler serves POST /v1/chat/completions, the OpenAI-compatible
// surface. Requests translate to the native form and run through the same
// dispatcher; there is no second pipeline.
type ChatHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewChatHandler creates the handler.
func NewChatHandler(d *dispatch.Dispatcher) *ChatHandler {
	return &ChatHandler{dispatcher: d}
}

// ServeHTTP handles one chat-completions request.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if r.Method != http.MethodPost {
		types.WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("Method %s not allowed. Use POST instead.", r.Method))
		return
	}

	var chatReq anthropic.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		types.WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if chatReq.Model == "" {
		types.WriteError(w, http.StatusBadRequest, "model is required")
		return
	}

	req, err := translator.FromChatRequest(&chatReq)
	if err != nil {
		types.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.InfoContext(ctx, "processing chat completion request",
		"request_id", requestID,
		"model", chatReq.Model,
		"messages", len(chatReq.Messages),
		"stream", chatReq.Stream,
	)

	if chatReq.Stream {
		h.serveStream(w, r, req)
		return
	}

	resp, err := h.dispatcher.Do(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "dispatch failed",
			"request_id", requestID,
			"model", chatReq.Model,
			"error", err,
		)
		types.WriteDispatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(translator.ToChatResponse(resp, chatReq.Model)); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

func (h *ChatHandler) serveStream(w http.ResponseWriter, r *http.Request, req *anthropic.MessagesRequest) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		types.WriteError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := newChatSink(w, flusher, req.Model)
	if err := h.dispatcher.DoStream(ctx, req, sink); err != nil && !sink.wroteAny {
		// Nothing went out yet, so the status line is still ours: report
		// the real status instead of a 200 with an error chunk, which
		// retrying clients would never look inside.
		status := http.StatusInternalServerError
		if de, ok := err.(*dispatch.Error); ok && de.HTTPStatus != 0 {
			status = de.HTTPStatus
		}
		w.WriteHeader(status)
		sink.emitErrorFrame(err)
		return
	}
	sink.emitDone()
}

// chatSink adapts native stream events onto chat-completions chunks.
// Reasoning deltas map onto delta content alongside text.
type chatSink struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	id       string
	model    string
	created  int64
	wroteAny bool
	finished bool
}

func newChatSink(w http.ResponseWriter, flusher http.Flusher, model string) *chatSink {
	return &chatSink{
		w:       w,
		flusher: flusher,
		model:   model,
		created: time.Now().Unix(),
	}
}

// Emit implements relay.Sink.
func (s *chatSink) Emit(event *anthropic.StreamEvent) error {
	switch event.Type {
	case anthropic.EventMessageStart:
		if event.Message != nil {
			s.id = "chatcmpl-" + event.Message.ID
		}
		return s.writeChunk(&anthropic.ChatTurn{Role: "assistant"}, nil)

	case anthropic.EventContentBlockDelta:
		if event.Delta == nil {
			return nil
		}
		content := event.Delta.Text
		if content == "" {
			content = event.Delta.Thinking
		}
		if content == "" {
			return nil
		}
		return s.writeChunk(&anthropic.ChatTurn{Content: content}, nil)

	case anthropic.EventMessageDelta:
		if event.Delta == nil || s.finished {
			return nil
		}
		s.finished = true
		finish := translator.ChatFinishReason(event.Delta.StopReason)
		return s.writeChunk(&anthropic.ChatTurn{}, &finish)

	case anthropic.EventError:
		data, err := json.Marshal(map[string]any{"error": event.Error})
		if err != nil {
			return err
		}
		return s.writeRaw(data)

	default:
		return nil
	}
}

func (s *chatSink) writeChunk(delta *anthropic.ChatTurn, finish *string) error {
	chunk := anthropic.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []anthropic.ChatChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return s.writeRaw(data)
}

func (s *chatSink) writeRaw(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	s.wroteAny = true
	return nil
}

func (s *chatSink) emitDone() {
	_, _ = fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func (s *chatSink) emitErrorFrame(err error) {
	message := err.Error()
	if de, ok := err.(*dispatch.Error); ok {
		message = de.Message
	}
	data, jsonErr := json.Marshal(map[string]any{
		"error": map[string]string{"message": message, "type": "api_error"},
	})
	if jsonErr != nil {
		return
	}
	_ = s.writeRaw(data)
	s.emitDone()
}

package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/dispatch"
	"mercator-hq/ganymede/pkg/proxy/middleware"
	"mercator-hq/ganymede/pkg/proxy/types"
)

// MessagesHandler serves POST /v1/messages, the native chat surface.
type MessagesHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewMessagesHandler creates the handler.
func NewMessagesHandler(d *dispatch.Dispatcher) *MessagesHandler {
	return &MessagesHandler{dispatcher: d}
}

// ServeHTTP handles one chat request, streaming or unary.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if r.Method != http.MethodPost {
		types.WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("Method %s not allowed. Use POST instead.", r.Method))
		return
	}

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := validateMessagesRequest(&req); err != nil {
		types.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.InfoContext(ctx, "processing messages request",
		"request_id", requestID,
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", req.Stream,
	)

	if req.Stream {
		h.serveStream(w, r, &req)
		return
	}

	resp, err := h.dispatcher.Do(ctx, &req)
	if err != nil {
		slog.ErrorContext(ctx, "dispatch failed",
			"request_id", requestID,
			"model", req.Model,
			"error", err,
		)
		types.WriteDispatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// serveStream runs the SSE path. Once headers are out, failures travel as
// error events inside the stream.
func (h *MessagesHandler) serveStream(w http.ResponseWriter, r *http.Request, req *anthropic.MessagesRequest) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		types.WriteError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sink := &sseSink{w: w, flusher: flusher}
	if err := h.dispatcher.DoStream(ctx, req, sink); err != nil {
		// Failures after the upstream stream opened already produced a
		// terminal error event inside the relay; everything earlier
		// (selection, waits, translation) still owes the client one. When
		// nothing has been written yet the status is uncommitted, so the
		// failure also gets its real HTTP status — clients decide retry
		// behaviour from the status line, not the SSE payload.
		if de, ok := err.(*dispatch.Error); !ok || de.HTTPStatus != 0 {
			if !sink.wroteAny {
				status := http.StatusInternalServerError
				if ok {
					status = de.HTTPStatus
				}
				w.WriteHeader(status)
			}
			sink.emitError(err)
		}
		slog.ErrorContext(ctx, "stream ended with error",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
	}
}

// sseSink writes A-format events as SSE frames. wroteAny tracks whether
// the 200 status is already committed: the first write commits it, after
// which a dispatch failure can no longer change the status line.
type sseSink struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	wroteAny bool
}

// Emit implements relay.Sink.
func (s *sseSink) Emit(event *anthropic.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	s.wroteAny = true
	return nil
}

func (s *sseSink) emitError(err error) {
	kind := "api_error"
	message := err.Error()
	if de, ok := err.(*dispatch.Error); ok {
		kind = de.Kind.String()
		message = de.Message
	}
	_ = s.Emit(&anthropic.StreamEvent{
		Type:  anthropic.EventError,
		Error: &anthropic.ErrorDetail{Type: kind, Message: message},
	})
}

// validateMessagesRequest checks required fields and basic ranges.
func validateMessagesRequest(req *anthropic.MessagesRequest) error {
	if req.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must contain at least one message")
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be greater than 0")
	}
	for i, msg := range req.Messages {
		if msg.Role != anthropic.RoleUser && msg.Role != anthropic.RoleAssistant {
			return fmt.Errorf("messages[%d].role must be user or assistant", i)
		}
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" && req.Thinking.BudgetTokens <= 0 {
		return fmt.Errorf("thinking.budget_tokens must be greater than 0 when thinking is enabled")
	}
	return nil
}

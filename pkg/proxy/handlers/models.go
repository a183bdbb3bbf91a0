package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/dispatch"
	"mercator-hq/ganymede/pkg/proxy/types"
)

// ModelsHandler serves GET /v1/models from upstream model discovery.
type ModelsHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewModelsHandler creates the handler.
func NewModelsHandler(d *dispatch.Dispatcher) *ModelsHandler {
	return &ModelsHandler{dispatcher: d}
}

// ServeHTTP lists the models the pool can serve.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		types.WriteError(w, http.StatusBadRequest, "Use GET for /v1/models.")
		return
	}

	models, err := h.dispatcher.Models(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "model discovery failed", "error", err)
		types.WriteDispatchError(w, err)
		return
	}

	now := time.Now().Unix()
	list := anthropic.ModelList{Object: "list", Data: make([]anthropic.ModelInfo, 0, len(models))}
	for _, id := range models {
		list.Data = append(list.Data, anthropic.ModelInfo{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: "ganymede",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&list); err != nil {
		slog.ErrorContext(r.Context(), "failed to write model list", "error", err)
	}
}

// CountTokensHandler serves POST /v1/messages/count_tokens. Token counting
// is heuristic in this proxy; the endpoint is explicitly unimplemented.
func CountTokensHandler(w http.ResponseWriter, _ *http.Request) {
	types.WriteError(w, http.StatusNotImplemented, "count_tokens is not implemented")
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/account"
)

// HealthHandler serves GET /health with pool status.
type HealthHandler struct {
	pool     *account.Pool
	sessions *account.Sessions
	started  time.Time
}

// NewHealthHandler creates the handler.
func NewHealthHandler(pool *account.Pool, sessions *account.Sessions) *HealthHandler {
	return &HealthHandler{pool: pool, sessions: sessions, started: time.Now()}
}

// ServeHTTP reports liveness and pool summary.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	accounts := h.pool.List()
	enabled, invalid := 0, 0
	for _, a := range accounts {
		if a.IsInvalid() {
			invalid++
		} else if a.IsEnabled() {
			enabled++
		}
	}

	status := "ok"
	code := http.StatusOK
	if enabled == 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"accounts": map[string]int{
			"total":   len(accounts),
			"enabled": enabled,
			"invalid": invalid,
		},
		"sessions": h.sessions.Len(),
	})
}

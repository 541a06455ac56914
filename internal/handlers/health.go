package handlers

import (
	"net/http"
	"time"

	"imagesim/internal/store"
)

const serviceVersion = "1.0.0"

type HealthHandler struct {
	store store.Store
}

func NewHealthHandler(st store.Store) *HealthHandler {
	return &HealthHandler{store: st}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	connected := h.store.Ping(r.Context()) == nil

	status := "healthy"
	code := http.StatusOK
	if !connected {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":             status,
		"database_connected": connected,
		"timestamp":          time.Now().UTC(),
		"version":            serviceVersion,
	})
}

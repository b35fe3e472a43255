package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-retrieval/internal/engine"
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	dispatcher Dispatcher
	sessions   SessionCounter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(d Dispatcher, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{dispatcher: d, sessions: sessions}
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Get runs selfTest and reports the live session count.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	reply := h.dispatcher.Dispatch(r.Context(), &engine.Request{Func: engine.OpSelfTest.String()})
	if e, ok := reply.(engine.ErrorResponse); ok {
		respondJSON(w, http.StatusServiceUnavailable, e)
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Sessions: h.sessions.Len()})
}

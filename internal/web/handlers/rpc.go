package handlers

import (
	"io"
	"net/http"
)

// RPCHandler accepts the same JSON requests as the TCP transport.
type RPCHandler struct {
	dispatcher Dispatcher
}

// NewRPCHandler creates a new RPC handler.
func NewRPCHandler(d Dispatcher) *RPCHandler {
	return &RPCHandler{dispatcher: d}
}

// Call runs one request. Failures are reported in the body envelope with status 200,
// matching the TCP transport.
func (h *RPCHandler) Call(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	respondJSON(w, http.StatusOK, h.dispatcher.Handle(r.Context(), body))
}

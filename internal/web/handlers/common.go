package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-retrieval/internal/engine"
	"github.com/kozaktomas/face-retrieval/internal/session"
)

// maxBodySize bounds request bodies.
const maxBodySize = 16 << 20

const errInvalidRequestBody = "invalid request body"

// Dispatcher runs engine requests. *engine.Dispatcher implements it.
type Dispatcher interface {
	Handle(ctx context.Context, payload []byte) any
	Dispatch(ctx context.Context, req *engine.Request) any
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an InvalidRequest envelope.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, engine.NewErrorResponse(fmt.Errorf("%w: %s", session.ErrInvalidRequest, message)))
}

// respondReply sends an engine reply, mapping failures to HTTP status codes.
func respondReply(w http.ResponseWriter, reply any, okStatus int) {
	if e, ok := reply.(engine.ErrorResponse); ok {
		respondJSON(w, StatusForCode(e.Error), e)
		return
	}
	respondJSON(w, okStatus, reply)
}

// StatusForCode maps a wire error code to an HTTP status.
func StatusForCode(code string) int {
	switch code {
	case engine.CodeInvalidRequest, engine.CodeEmptyInput:
		return http.StatusBadRequest
	case engine.CodeUnknownSession:
		return http.StatusNotFound
	case engine.CodeNotReady:
		return http.StatusConflict
	case engine.CodeNoFaceInROI:
		return http.StatusUnprocessableEntity
	case engine.CodeExtractionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, w http.ResponseWriter, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

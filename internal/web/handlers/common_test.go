package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-retrieval/internal/engine"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	assertContentType(t, recorder, "application/json")
}

func TestRespondJSON_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"BadRequest", http.StatusBadRequest},
		{"NotFound", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, nil)

			assertStatusCode(t, recorder, tc.statusCode)
			if recorder.Body.Len() != 0 {
				t.Errorf("expected empty body for nil data, got %q", recorder.Body.String())
			}
		})
	}
}

func TestRespondError_UsesEnvelope(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, errInvalidRequestBody)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["success"] != false || result["error"] != engine.CodeInvalidRequest {
		t.Errorf("unexpected envelope %v", result)
	}
	if result["message"] != "invalid request: "+errInvalidRequestBody {
		t.Errorf("unexpected message %v", result["message"])
	}
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{engine.CodeInvalidRequest, http.StatusBadRequest},
		{engine.CodeEmptyInput, http.StatusBadRequest},
		{engine.CodeUnknownSession, http.StatusNotFound},
		{engine.CodeNotReady, http.StatusConflict},
		{engine.CodeNoFaceInROI, http.StatusUnprocessableEntity},
		{engine.CodeExtractionTimeout, http.StatusGatewayTimeout},
		{engine.CodeCorruptDataset, http.StatusInternalServerError},
		{engine.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := StatusForCode(tt.code); got != tt.want {
				t.Errorf("StatusForCode(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("sanitizeForLog = %q, want %q", got, "abc")
	}
}

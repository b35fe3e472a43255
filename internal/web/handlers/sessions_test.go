package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/engine"
	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
	"github.com/kozaktomas/face-retrieval/internal/session"
)

func TestSessionsHandler_Create(t *testing.T) {
	d, _ := newTestDispatcher()
	handler := NewSessionsHandler(d)

	recorder := httptest.NewRecorder()
	handler.Create(recorder, jsonRequest(http.MethodPost, "/api/v1/sessions", `{"dataset":"faces"}`))

	assertStatusCode(t, recorder, http.StatusCreated)
	assertContentType(t, recorder, "application/json")
	var resp engine.QueryIDResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Success || resp.QueryID != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSessionsHandler_Create_Invalid(t *testing.T) {
	d, _ := newTestDispatcher()
	handler := NewSessionsHandler(d)

	tests := []struct {
		name string
		body string
	}{
		{"malformed body", `{"dataset":`},
		{"missing dataset", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Create(recorder, jsonRequest(http.MethodPost, "/api/v1/sessions", tt.body))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertErrorCode(t, recorder, engine.CodeInvalidRequest)
		})
	}
}

func TestSessionsHandler_AddImage(t *testing.T) {
	d, f := newTestDispatcher()
	f.open = 1
	handler := NewSessionsHandler(d)

	req := jsonRequest(http.MethodPost, "/api/v1/sessions/1/images",
		`{"path":"/q/a.jpg","positive":true,"roi":[10,20,60,20,60,90,10,90],"uri":42,"from_dataset":true}`)
	recorder := httptest.NewRecorder()
	handler.AddImage(recorder, requestWithChiParams(req, map[string]string{"id": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	if len(f.added) != 1 {
		t.Fatalf("expected 1 added image, got %d", len(f.added))
	}
	got := f.added[0]
	if got.Path != "/q/a.jpg" || !got.Positive || got.ExternalID != 42 || !got.FromDataset {
		t.Errorf("unexpected add request %+v", got)
	}
	if len(got.ROIPoints) != 8 || got.ROIPoints[5] != 90 {
		t.Errorf("unexpected roi points %v", got.ROIPoints)
	}
}

func TestSessionsHandler_AddImage_Negative(t *testing.T) {
	d, f := newTestDispatcher()
	f.open = 1
	handler := NewSessionsHandler(d)

	req := jsonRequest(http.MethodPost, "/api/v1/sessions/1/images", `{"path":"/q/b.jpg"}`)
	recorder := httptest.NewRecorder()
	handler.AddImage(recorder, requestWithChiParams(req, map[string]string{"id": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	if len(f.added) != 1 || f.added[0].Positive || f.added[0].ExternalID != session.NoExternalID {
		t.Errorf("unexpected add requests %+v", f.added)
	}
}

func TestSessionsHandler_InvalidID(t *testing.T) {
	d, _ := newTestDispatcher()
	handler := NewSessionsHandler(d)

	for _, id := range []string{"abc", "-1", "", "9007199254740993", "18446744073709551615"} {
		t.Run(id, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/x/train", nil)
			recorder := httptest.NewRecorder()
			handler.Train(recorder, requestWithChiParams(req, map[string]string{"id": id}))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertErrorCode(t, recorder, engine.CodeInvalidRequest)
		})
	}
}

func TestSessionsHandler_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		open     int
		trainErr error
		call     func(h *SessionsHandler) http.HandlerFunc
		status   int
		code     string
	}{
		{
			name:   "unknown session",
			call:   func(h *SessionsHandler) http.HandlerFunc { return h.Rank },
			status: http.StatusNotFound,
			code:   engine.CodeUnknownSession,
		},
		{
			name:   "ranking before rank",
			open:   1,
			call:   func(h *SessionsHandler) http.HandlerFunc { return h.GetRanking },
			status: http.StatusConflict,
			code:   engine.CodeNotReady,
		},
		{
			name:     "extraction timeout",
			open:     1,
			trainErr: fmt.Errorf("aggregating: %w", fingerprint.ErrExtractionTimeout),
			call:     func(h *SessionsHandler) http.HandlerFunc { return h.Train },
			status:   http.StatusGatewayTimeout,
			code:     engine.CodeExtractionTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, f := newTestDispatcher()
			f.open = tt.open
			f.trainErr = tt.trainErr
			handler := NewSessionsHandler(d)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/1", nil)
			recorder := httptest.NewRecorder()
			tt.call(handler)(recorder, requestWithChiParams(req, map[string]string{"id": "1"}))

			assertStatusCode(t, recorder, tt.status)
			assertErrorCode(t, recorder, tt.code)
		})
	}
}

func TestSessionsHandler_GetRanking(t *testing.T) {
	d, f := newTestDispatcher()
	f.open = 1
	f.ranking = []ranking.Entry{
		{Path: "a.jpg", ROI: "0.00_0.00", Score: 0.25},
		{Path: "b.jpg", ROI: "0.00_0.00", Score: 0.5},
	}
	handler := NewSessionsHandler(d)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/1/ranking", nil)
	recorder := httptest.NewRecorder()
	handler.GetRanking(recorder, requestWithChiParams(req, map[string]string{"id": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp engine.RankingResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.RankList) != 2 || resp.RankList[0].Path != "a.jpg" || resp.RankList[1].Score != 0.5 {
		t.Errorf("unexpected ranking %+v", resp.RankList)
	}
}

func TestSessionsHandler_Annotations(t *testing.T) {
	d, f := newTestDispatcher()
	f.open = 1
	f.records["set-a"] = []annotations.Record{{
		Path: "a.jpg",
		ROI:  facematch.Box{X1: 1, Y1: 2, X2: 3, Y2: 4},
		Anno: annotations.Negative,
		URI:  7,
	}}
	handler := NewSessionsHandler(d)

	req := jsonRequest(http.MethodPost, "/api/v1/sessions/1/annotations", `{"filepath":"set-b"}`)
	recorder := httptest.NewRecorder()
	handler.SaveAnnotations(recorder, requestWithChiParams(req, map[string]string{"id": "1"}))
	assertStatusCode(t, recorder, http.StatusOK)
	if len(f.saved) != 1 || f.saved[0] != "set-b" {
		t.Errorf("unexpected saved keys %v", f.saved)
	}

	recorder = httptest.NewRecorder()
	handler.GetAnnotations(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/annotations?filepath=set-a", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	var resp engine.AnnotationsResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Annos) != 1 || resp.Annos[0].Anno != "-1" || resp.Annos[0].URI != "7" {
		t.Errorf("unexpected annotations %+v", resp.Annos)
	}

	recorder = httptest.NewRecorder()
	handler.GetAnnotations(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/annotations?filepath=missing", nil))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

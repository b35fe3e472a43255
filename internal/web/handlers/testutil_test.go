package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/engine"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
	"github.com/kozaktomas/face-retrieval/internal/session"
)

// fakeSessions is an in-memory engine.Sessions with scripted failures.
type fakeSessions struct {
	added    []session.AddImageRequest
	trainErr error
	ranking  []ranking.Entry
	records  map[string][]annotations.Record
	saved    []string
	open     int
}

func (f *fakeSessions) OpenSession(dataset string) (uint64, error) {
	if dataset == "" {
		return 0, fmt.Errorf("%w: dataset is required", session.ErrInvalidRequest)
	}
	f.open++
	return uint64(f.open), nil
}

func (f *fakeSessions) check(id uint64) error {
	if id == 0 || id > uint64(f.open) {
		return fmt.Errorf("%w: %d", session.ErrUnknownSession, id)
	}
	return nil
}

func (f *fakeSessions) AddTrainingImage(_ context.Context, id uint64, req session.AddImageRequest) (bool, error) {
	if err := f.check(id); err != nil {
		return false, err
	}
	f.added = append(f.added, req)
	return true, nil
}

func (f *fakeSessions) Train(_ context.Context, id uint64) error {
	if err := f.check(id); err != nil {
		return err
	}
	return f.trainErr
}

func (f *fakeSessions) Rank(id uint64) error { return f.check(id) }

func (f *fakeSessions) GetRanking(id uint64) ([]ranking.Entry, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	if f.ranking == nil {
		return nil, fmt.Errorf("%w: no ranking yet", session.ErrNotReady)
	}
	return f.ranking, nil
}

func (f *fakeSessions) ReleaseSession(id uint64) error { return f.check(id) }

func (f *fakeSessions) SaveAnnotations(_ context.Context, id uint64, key string) error {
	if err := f.check(id); err != nil {
		return err
	}
	f.saved = append(f.saved, key)
	return nil
}

func (f *fakeSessions) GetAnnotations(_ context.Context, key string) ([]annotations.Record, error) {
	records, ok := f.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrInvalidRequest, key)
	}
	return records, nil
}

func (f *fakeSessions) CheckClassifierRequest(id uint64, _ string) error { return f.check(id) }

func (f *fakeSessions) Len() int { return f.open }

func newTestDispatcher() (*engine.Dispatcher, *fakeSessions) {
	f := &fakeSessions{records: map[string][]annotations.Record{}}
	return engine.NewDispatcher(f, zap.NewNop()), f
}

// jsonRequest creates a request with a JSON body
func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertErrorCode checks that the response is a failure envelope with the expected code
func assertErrorCode(t *testing.T, recorder *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	var result engine.ErrorResponse
	parseJSONResponse(t, recorder, &result)
	if result.Success {
		t.Error("expected success=false")
	}
	if result.Error != expectedCode {
		t.Errorf("expected error '%s', got '%s'", expectedCode, result.Error)
	}
}

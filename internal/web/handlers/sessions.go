package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/engine"
	"github.com/kozaktomas/face-retrieval/internal/logger"
)

// SessionsHandler exposes the session lifecycle as REST routes.
type SessionsHandler struct {
	dispatcher Dispatcher
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(d Dispatcher) *SessionsHandler {
	return &SessionsHandler{dispatcher: d}
}

// CreateSessionRequest opens a session.
type CreateSessionRequest struct {
	Dataset string `json:"dataset"`
}

// AddImageRequest adds a training image.
type AddImageRequest struct {
	Path        string    `json:"path"`
	Positive    bool      `json:"positive"`
	ROI         []float64 `json:"roi,omitempty"`
	URI         *int64    `json:"uri,omitempty"`
	FromDataset bool      `json:"from_dataset,omitempty"`
}

// AnnotationsRequest names an annotation set.
type AnnotationsRequest struct {
	FilePath string `json:"filepath"`
}

func number(v float64) *engine.Number {
	n := engine.Number(v)
	return &n
}

// sessionRequest builds a request for the session in the {id} URL parameter.
func sessionRequest(w http.ResponseWriter, r *http.Request, op engine.Operation) (*engine.Request, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id > engine.MaxQueryID {
		respondError(w, http.StatusBadRequest, "invalid session id "+strconv.Quote(sanitizeForLog(raw)))
		return nil, false
	}
	return &engine.Request{Func: op.String(), QueryID: number(float64(id))}, true
}

// Create opens a session and answers 201 with its id.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if !decodeBody(r, w, &body) {
		return
	}
	reply := h.dispatcher.Dispatch(r.Context(), &engine.Request{
		Func:    engine.OpGetQueryID.String(),
		Dataset: body.Dataset,
	})
	respondReply(w, reply, http.StatusCreated)
}

// AddImage adds a positive or negative training image.
func (h *SessionsHandler) AddImage(w http.ResponseWriter, r *http.Request) {
	var body AddImageRequest
	if !decodeBody(r, w, &body) {
		return
	}
	op := engine.OpAddNegTrs
	if body.Positive {
		op = engine.OpAddPosTrs
	}
	req, ok := sessionRequest(w, r, op)
	if !ok {
		return
	}
	req.ImPath = body.Path
	params := &engine.ExtraParams{FromDataset: body.FromDataset}
	if body.URI != nil {
		params.URI = number(float64(*body.URI))
	}
	for _, v := range body.ROI {
		params.ROI = append(params.ROI, engine.Number(v))
	}
	req.ExtraParams = params

	logger.FromContext(r.Context()).Debug("adding training image",
		zap.String("path", sanitizeForLog(body.Path)), zap.Bool("positive", body.Positive))
	respondReply(w, h.dispatcher.Dispatch(r.Context(), req), http.StatusOK)
}

// Train aggregates the training images.
func (h *SessionsHandler) Train(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, engine.OpTrain)
}

// Rank ranks the dataset against the trained fingerprint.
func (h *SessionsHandler) Rank(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, engine.OpRank)
}

// GetRanking returns the stored ranking.
func (h *SessionsHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, engine.OpGetRanking)
}

// Release drops the session.
func (h *SessionsHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, engine.OpReleaseQueryID)
}

// SaveAnnotations stores the session's training images under a key.
func (h *SessionsHandler) SaveAnnotations(w http.ResponseWriter, r *http.Request) {
	var body AnnotationsRequest
	if !decodeBody(r, w, &body) {
		return
	}
	req, ok := sessionRequest(w, r, engine.OpSaveAnnotations)
	if !ok {
		return
	}
	req.FilePath = body.FilePath
	respondReply(w, h.dispatcher.Dispatch(r.Context(), req), http.StatusOK)
}

// GetAnnotations returns the annotation set named by the filepath query parameter.
func (h *SessionsHandler) GetAnnotations(w http.ResponseWriter, r *http.Request) {
	reply := h.dispatcher.Dispatch(r.Context(), &engine.Request{
		Func:     engine.OpGetAnnotations.String(),
		FilePath: r.URL.Query().Get("filepath"),
	})
	respondReply(w, reply, http.StatusOK)
}

func (h *SessionsHandler) simple(w http.ResponseWriter, r *http.Request, op engine.Operation) {
	req, ok := sessionRequest(w, r, op)
	if !ok {
		return
	}
	respondReply(w, h.dispatcher.Dispatch(r.Context(), req), http.StatusOK)
}

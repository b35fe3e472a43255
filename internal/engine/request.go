package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
)

// Number accepts a JSON number or a numeric string. Clients send ids both ways.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err //nolint:wrapcheck // decoding error is reported as is
		}
		data = []byte(s)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", data)
	}
	*n = Number(v)
	return nil
}

// Request is a decoded wire request. Field names follow the protocol.
type Request struct {
	Func        string       `json:"func"`
	Dataset     string       `json:"dataset,omitempty"`
	QueryID     *Number      `json:"query_id,omitempty"`
	ImPath      string       `json:"impath,omitempty"`
	FeatPath    string       `json:"featpath,omitempty"`
	ExtraParams *ExtraParams `json:"extra_params,omitempty"`
	FilePath    string       `json:"filepath,omitempty"`

	raw json.RawMessage
}

// ExtraParams are the optional training image parameters.
type ExtraParams struct {
	FromDataset bool     `json:"from_dataset,omitempty"`
	URI         *Number  `json:"uri,omitempty"`
	ROI         []Number `json:"roi,omitempty"`
}

// DecodeRequest parses a request and keeps the raw payload for echoing.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	req.raw = append(json.RawMessage(nil), data...)
	return &req, nil
}

// Response carries only the success flag.
type Response struct {
	Success bool `json:"success"`
}

// QueryIDResponse answers getQueryId.
type QueryIDResponse struct {
	Success bool   `json:"success"`
	QueryID uint64 `json:"query_id"`
}

// RankingResponse answers getRanking.
type RankingResponse struct {
	Success  bool            `json:"success"`
	RankList []ranking.Entry `json:"ranklist"`
}

// Annotation is one entry of getAnnotations. ROI is the closed 10-value polygon.
type Annotation struct {
	Image string    `json:"image"`
	Anno  string    `json:"anno"`
	ROI   []float64 `json:"roi"`
	URI   string    `json:"uri"`
	Score float64   `json:"score"`
}

// AnnotationsResponse answers getAnnotations.
type AnnotationsResponse struct {
	Success bool         `json:"success"`
	Annos   []Annotation `json:"annos"`
}

// ErrorResponse reports a failed operation.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewAnnotations converts stored records to their wire form.
func NewAnnotations(records []annotations.Record) []Annotation {
	out := make([]Annotation, len(records))
	for i, r := range records {
		poly := r.ROI.Polygon()
		out[i] = Annotation{
			Image: r.Path,
			Anno:  strconv.Itoa(r.Anno),
			ROI:   poly[:],
			URI:   strconv.FormatInt(r.URI, 10),
			Score: r.Score,
		}
	}
	return out
}

package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultInputSize    = 224
)

// EmbeddingClient talks to the face model server. It implements both Detector and Embedder.
type EmbeddingClient struct {
	baseURL   string
	dim       int
	inputSize int
	client    *http.Client
}

// NewEmbeddingClient creates a new embedding client. dim is the expected fingerprint length.
func NewEmbeddingClient(baseURL string, dim int) *EmbeddingClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &EmbeddingClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		dim:       dim,
		inputSize: defaultInputSize,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// embeddingResponse represents the response from the embedding server
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// faceBox represents a single detected face
type faceBox struct {
	BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore float64   `json:"det_score"`
}

// detectResponse represents the response from the face detection endpoint
type detectResponse struct {
	FacesCount int       `json:"faces_count"`
	Faces      []faceBox `json:"faces"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *EmbeddingClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect finds faces in img.
func (c *EmbeddingClient) Detect(ctx context.Context, img image.Image) ([]facematch.Detection, error) {
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/detect/face", data)
	if err != nil {
		return nil, err
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	dets := make([]facematch.Detection, 0, len(detResp.Faces))
	for _, f := range detResp.Faces {
		box, err := facematch.BoxFromSlice(f.BBox)
		if err != nil || !box.Valid() {
			continue
		}
		dets = append(dets, facematch.Detection{Box: box, Score: f.DetScore})
	}
	return dets, nil
}

// Embed computes the fingerprint of a cropped face. The crop is scaled to the model input size first.
func (c *EmbeddingClient) Embed(ctx context.Context, face image.Image) (Fingerprint, error) {
	data, err := EncodeJPEG(Resize(face, c.inputSize, c.inputSize))
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face-crop", data)
	if err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	if c.dim > 0 && len(embResp.Embedding) != c.dim {
		return nil, fmt.Errorf("embedding has %d values, expected %d", len(embResp.Embedding), c.dim)
	}

	return Normalize(embResp.Embedding), nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}

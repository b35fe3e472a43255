// Package fingerprint extracts face fingerprints and aggregates them into a single query vector.
package fingerprint

import (
	"context"
	"errors"
	"image"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
)

// Errors returned by Aggregate.
var (
	ErrExtractionTimeout = errors.New("fingerprint extraction timed out")
	ErrEmptyInput        = errors.New("no images to extract fingerprints from")
)

// Fingerprint is an L2-normalized face embedding.
type Fingerprint []float32

// Detector finds faces in an image. An image without faces yields an empty slice and no error.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]facematch.Detection, error)
}

// Embedder computes the fingerprint of a cropped face image.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) (Fingerprint, error)
}

// ImageLoader reads and decodes an image from a path.
type ImageLoader interface {
	Load(path string) (image.Image, error)
}

// Item is one face to extract: an image path and the face box in it.
// A zero ROI means the whole image.
type Item struct {
	Path string
	ROI  facematch.Box
}

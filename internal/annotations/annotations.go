// Package annotations persists the training images of a session as an annotation set.
package annotations

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
)

// ErrNotFound is returned when an annotation set does not exist.
var ErrNotFound = errors.New("annotation set not found")

// Annotation values of a training image.
const (
	Positive = 1
	Negative = -1
)

// Record is one annotated training image. ROI is zero when the image was stored
// without a face box.
type Record struct {
	Path  string
	ROI   facematch.Box
	Anno  int
	URI   int64
	Score float64
}

// Store saves and loads annotation sets by key. For the file store the key is a file path.
type Store interface {
	Save(ctx context.Context, key string, records []Record) error
	Load(ctx context.Context, key string) ([]Record, error)
}

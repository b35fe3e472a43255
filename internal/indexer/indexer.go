// Package indexer adds faces found in still images and video shots to a dataset bundle.
package indexer

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/tracker"
	"github.com/kozaktomas/face-retrieval/internal/workpool"
)

// Sink receives each completed batch of dataset entries.
type Sink func(b *dataset.Bundle) error

// AppendTo returns a sink appending batches to the dataset file at path.
func AppendTo(path string) Sink {
	return func(b *dataset.Bundle) error {
		return dataset.Append(path, b)
	}
}

// Options tunes an Indexer.
type Options struct {
	// MinScore drops detections below this confidence.
	MinScore float64
	// BatchSize is the number of entries buffered before the sink is called.
	BatchSize int
	// Dim is the fingerprint length.
	Dim int
}

// Indexer detects and embeds faces. Detection and embedding of independent
// images run on the shared pool.
type Indexer struct {
	detector  fingerprint.Detector
	embedder  fingerprint.Embedder
	loader    fingerprint.ImageLoader
	extractor tracker.Extractor
	pool      *workpool.Pool
	opts      Options
	log       *zap.Logger
}

// New creates an indexer. extractor computes the fingerprints of track members;
// fingerprint.Aggregator is the usual one.
func New(
	detector fingerprint.Detector,
	embedder fingerprint.Embedder,
	loader fingerprint.ImageLoader,
	extractor tracker.Extractor,
	pool *workpool.Pool,
	opts Options,
	log *zap.Logger,
) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Indexer{
		detector:  detector,
		embedder:  embedder,
		loader:    loader,
		extractor: extractor,
		pool:      pool,
		opts:      opts,
		log:       log,
	}
}

// detect returns the detections of img scoring at least MinScore.
func (ix *Indexer) detect(ctx context.Context, img image.Image) ([]facematch.Detection, error) {
	dets, err := ix.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}
	kept := dets[:0]
	for _, d := range dets {
		if d.Score >= ix.opts.MinScore && d.Box.Truncate().Valid() {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

// embed crops box out of img and returns its normalized fingerprint.
func (ix *Indexer) embed(ctx context.Context, img image.Image, box facematch.Box) (fingerprint.Fingerprint, error) {
	face, err := fingerprint.Crop(img, box)
	if err != nil {
		return nil, err
	}
	fp, err := ix.embedder.Embed(ctx, face)
	if err != nil {
		return nil, err
	}
	if len(fp) != ix.opts.Dim {
		return nil, fmt.Errorf("got %d values, expected %d", len(fp), ix.opts.Dim)
	}
	return fingerprint.Normalize(fp), nil
}

// batcher buffers entries and hands them to the sink in batches.
type batcher struct {
	sink    Sink
	size    int
	pending dataset.Bundle
	written int
}

func (b *batcher) add(path string, roi facematch.Box, fp fingerprint.Fingerprint) error {
	b.pending.Paths = append(b.pending.Paths, path)
	b.pending.ROIs = append(b.pending.ROIs, roi)
	b.pending.Fingerprints = append(b.pending.Fingerprints, fp)
	if len(b.pending.Paths) >= b.size {
		return b.flush()
	}
	return nil
}

func (b *batcher) flush() error {
	n := len(b.pending.Paths)
	if n == 0 {
		return nil
	}
	if err := b.sink(&b.pending); err != nil {
		return fmt.Errorf("writing %d entries: %w", n, err)
	}
	b.written += n
	b.pending = dataset.Bundle{}
	return nil
}

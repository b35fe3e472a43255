package indexer

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
)

// ImageStats summarizes an IndexImages run.
type ImageStats struct {
	Images  int
	Faces   int
	Failed  int
	Written int
}

type face struct {
	roi facematch.Box
	fp  fingerprint.Fingerprint
}

// IndexImages detects every face in each image and sinks one entry per face. Entries
// keep the order of paths, and faces within an image keep detector order. Images that
// can't be read or analysed are logged and skipped. onImage, if set, is called after
// each image.
func (ix *Indexer) IndexImages(ctx context.Context, paths []string, sink Sink, onImage func()) (ImageStats, error) {
	var stats ImageStats
	out := &batcher{sink: sink, size: ix.opts.BatchSize}

	for start := 0; start < len(paths); start += ix.opts.BatchSize {
		chunk := paths[start:min(start+ix.opts.BatchSize, len(paths))]
		results := make([][]face, len(chunk))
		failed := make([]bool, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		for i, path := range chunk {
			g.Go(func() error {
				return ix.pool.Do(gctx, func() error {
					faces, err := ix.indexImage(gctx, path)
					if onImage != nil {
						onImage()
					}
					if err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						ix.log.Warn("skipping image", zap.String("path", path), zap.Error(err))
						failed[i] = true
						return nil
					}
					results[i] = faces
					return nil
				})
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		for i, faces := range results {
			stats.Images++
			if failed[i] {
				stats.Failed++
				continue
			}
			for _, f := range faces {
				if err := out.add(chunk[i], f.roi, f.fp); err != nil {
					return stats, err
				}
				stats.Faces++
			}
		}
	}

	if err := out.flush(); err != nil {
		return stats, err
	}
	stats.Written = out.written
	return stats, nil
}

func (ix *Indexer) indexImage(ctx context.Context, path string) ([]face, error) {
	img, err := ix.loader.Load(path)
	if err != nil {
		return nil, err
	}
	dets, err := ix.detect(ctx, img)
	if err != nil {
		return nil, err
	}

	faces := make([]face, 0, len(dets))
	var errs []error
	for _, d := range dets {
		roi := d.Box.Truncate()
		fp, err := ix.embed(ctx, img, roi)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		faces = append(faces, face{roi: roi, fp: fp})
	}
	if len(faces) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return faces, nil
}

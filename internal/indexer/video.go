package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/tracker"
)

// Video describes the frames of one video cut into shots.
type Video struct {
	// FramesDir holds the extracted frames.
	FramesDir string
	// Frames are the frame file names, sorted.
	Frames []string
	Shots  []tracker.Shot
	// DatasetBase is the root dataset paths are stored relative to.
	DatasetBase string
	// Folder is the directory under DatasetBase that receives representative frames.
	Folder string
}

// VideoStats summarizes an IndexVideo run.
type VideoStats struct {
	Shots   int
	Tracks  int
	Skipped int
	Written int
}

// ListFrames returns the names of the files in dir ending in ext, sorted by name.
func ListFrames(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frames directory: %w", err)
	}
	var frames []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			frames = append(frames, e.Name())
		}
	}
	slices.Sort(frames)
	return frames, nil
}

// FolderFor returns the dataset folder for a video name.
func FolderFor(name string) (string, error) {
	folder := facematch.SanitizeName(name)
	if folder == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	return folder, nil
}

// IndexVideo tracks the faces of every shot and sinks one entry per track: the
// track fingerprint, the box of its best detection and the path of that frame,
// copied into Folder. onShot, if set, is called after each shot.
func (ix *Indexer) IndexVideo(ctx context.Context, v Video, sink Sink, onShot func()) (VideoStats, error) {
	var stats VideoStats

	framesDir, err := filepath.Abs(v.FramesDir)
	if err != nil {
		return stats, err
	}
	folder := filepath.Join(v.DatasetBase, v.Folder)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return stats, fmt.Errorf("creating dataset folder: %w", err)
	}

	out := &batcher{sink: sink, size: ix.opts.BatchSize}
	for _, shot := range v.Shots {
		framePath := func(frame int) string {
			return filepath.Join(framesDir, v.Frames[shot.Begin+frame])
		}

		dets, err := ix.detectShot(ctx, shot, framePath)
		if err != nil {
			return stats, err
		}

		for _, track := range tracker.Build(dets, tracker.MinIoU) {
			stats.Tracks++
			red, err := tracker.Reduce(ctx, track, framePath, ix.extractor, ix.opts.Dim)
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				ix.log.Warn("skipping track", zap.Int("shot_begin", shot.Begin), zap.Int("track", track.ID), zap.Error(err))
				stats.Skipped++
				continue
			}

			dst := filepath.Join(folder, filepath.Base(framePath(red.Representative.Frame)))
			if err := copyFrame(framePath(red.Representative.Frame), dst); err != nil {
				return stats, err
			}
			rel, err := filepath.Rel(v.DatasetBase, dst)
			if err != nil {
				return stats, err
			}
			if err := out.add(rel, red.Representative.Detection.Box.Truncate(), red.Fingerprint); err != nil {
				return stats, err
			}
		}

		stats.Shots++
		if onShot != nil {
			onShot()
		}
	}

	if err := out.flush(); err != nil {
		return stats, err
	}
	stats.Written = out.written
	return stats, nil
}

// detectShot runs detection on every frame of the shot. A frame that fails is
// left empty, which ends the tracks running through it.
func (ix *Indexer) detectShot(ctx context.Context, shot tracker.Shot, framePath func(int) string) ([][]facematch.Detection, error) {
	frames := make([][]facematch.Detection, shot.End-shot.Begin+1)

	g, gctx := errgroup.WithContext(ctx)
	for i := range frames {
		g.Go(func() error {
			return ix.pool.Do(gctx, func() error {
				img, err := ix.loader.Load(framePath(i))
				if err == nil {
					frames[i], err = ix.detect(gctx, img)
				}
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					ix.log.Warn("skipping frame", zap.String("frame", framePath(i)), zap.Error(err))
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

// copyFrame copies src to dst unless dst already exists.
func copyFrame(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	in, err := os.Open(src) //nolint:gosec // frame paths come from the operator
	if err != nil {
		return fmt.Errorf("opening frame: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // destination is inside the dataset folder
	if err != nil {
		return fmt.Errorf("creating frame copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying frame: %w", err)
	}
	return out.Close()
}

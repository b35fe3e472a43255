package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/constants"
	"github.com/kozaktomas/face-retrieval/internal/indexer"
	"github.com/kozaktomas/face-retrieval/internal/tracker"
)

var indexVideoCmd = &cobra.Command{
	Use:   "video <frames-dir> <shots-file> <name>",
	Short: "Index face tracks of a video",
	Long: `Track faces through the shots of a video and append one dataset entry per
track. Frames are the .jpg files in <frames-dir> sorted by name. Each line of
<shots-file> holds the first and last frame name of a shot, without extension.

The best frame of every track is copied into <images root>/<name>/, with <name>
reduced to [a-zA-Z0-9_].

Examples:
  face-retrieval index video ./frames ./shots.txt "news 2018-04-01"`,
	Args: cobra.ExactArgs(3),
	RunE: runIndexVideo,
}

func init() {
	indexCmd.AddCommand(indexVideoCmd)
}

func runIndexVideo(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	out, base, err := indexTarget(cmd, cfg)
	if err != nil {
		return err
	}
	framesDir, shotsFile, name := args[0], args[1], args[2]

	folder, err := indexer.FolderFor(name)
	if err != nil {
		return err
	}
	frames, err := indexer.ListFrames(framesDir, constants.FramesExt)
	if err != nil {
		return err
	}

	f, err := os.Open(shotsFile) //nolint:gosec // shots file is given by the operator
	if err != nil {
		return fmt.Errorf("opening shots file: %w", err)
	}
	shots, err := tracker.ReadShots(f, frames, constants.FramesExt)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading shots file: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Frames: %d, shots: %d, folder: %s\n\n", len(frames), len(shots), folder)

	ix := newIndexer(cmd, cfg, base, log)
	bar := newProgressBar(len(shots), "Tracking faces", "shots")
	stats, err := ix.IndexVideo(ctx, indexer.Video{
		FramesDir:   framesDir,
		Frames:      frames,
		Shots:       shots,
		DatasetBase: base,
		Folder:      folder,
	}, indexer.AppendTo(out), func() { _ = bar.Add(1) })
	fmt.Println()
	if stats.Written > 0 {
		printAppended(out, stats.Written)
	}
	if err != nil {
		return err
	}

	log.Info("video indexed",
		zap.String("folder", folder),
		zap.Int("shots", stats.Shots),
		zap.Int("tracks", stats.Tracks),
		zap.Int("skipped", stats.Skipped),
	)
	fmt.Printf("Shots: %d, tracks: %d, skipped: %d\n", stats.Shots, stats.Tracks, stats.Skipped)
	return nil
}

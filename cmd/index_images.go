package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/indexer"
)

var indexImagesCmd = &cobra.Command{
	Use:   "images <list-file>",
	Short: "Index every face in a list of images",
	Long: `Read image paths, one per line and relative to the images root, detect
every face in each image and append one dataset entry per face.

Examples:
  face-retrieval index images photos.txt
  face-retrieval index images photos.txt --base /data/images --out /data/faces.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexImages,
}

func init() {
	indexCmd.AddCommand(indexImagesCmd)
}

func readImageList(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // list file is given by the operator
	if err != nil {
		return nil, fmt.Errorf("opening image list: %w", err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading image list: %w", err)
	}
	return paths, nil
}

func runIndexImages(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	out, base, err := indexTarget(cmd, cfg)
	if err != nil {
		return err
	}
	paths, err := readImageList(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No images to index")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix := newIndexer(cmd, cfg, base, log)
	bar := newProgressBar(len(paths), "Indexing images", "images")
	stats, err := ix.IndexImages(ctx, paths, indexer.AppendTo(out), func() { _ = bar.Add(1) })
	fmt.Println()
	if stats.Written > 0 {
		printAppended(out, stats.Written)
	}
	if err != nil {
		return err
	}

	log.Info("images indexed",
		zap.Int("images", stats.Images),
		zap.Int("faces", stats.Faces),
		zap.Int("failed", stats.Failed),
	)
	fmt.Printf("Images: %d, faces: %d, failed: %d\n", stats.Images, stats.Faces, stats.Failed)
	return nil
}

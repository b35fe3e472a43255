package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/config"
	"github.com/kozaktomas/face-retrieval/internal/constants"
	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/indexer"
	"github.com/kozaktomas/face-retrieval/internal/workpool"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Add faces from images or video to the dataset",
	Long: `Detect faces with the embedding service and append their fingerprints to the
dataset bundle. Only single-bundle datasets can be appended to; split datasets
must be indexed into a new bundle and listed afterwards.`,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.PersistentFlags().String("out", "", "Dataset bundle to append to (default from DATASET_FEATS_FILE)")
	indexCmd.PersistentFlags().String("base", "", "Dataset images root (default from DATASET_IMAGES_BASE_PATH)")
	indexCmd.PersistentFlags().Int("workers", 0, "Parallel detections (default from NUMBER_OF_HELPER_WORKERS)")
}

// indexTarget resolves the output bundle and the images root of an index command.
func indexTarget(cmd *cobra.Command, cfg *config.Config) (out, base string, err error) {
	out = stringFlagOr(cmd, "out", cfg.Dataset.FeaturesFile)
	if out == "" {
		return "", "", errors.New("no output bundle given and DATASET_FEATS_FILE is not set")
	}
	base = stringFlagOr(cmd, "base", cfg.Dataset.ImagesBasePath)
	if base == "" {
		return "", "", errors.New("no images root given and DATASET_IMAGES_BASE_PATH is not set")
	}
	if err := dataset.CheckAppendable(out); err != nil {
		return "", "", err
	}
	return out, base, nil
}

// newIndexer wires the embedding service to an indexer reading images under base.
func newIndexer(cmd *cobra.Command, cfg *config.Config, base string, log *zap.Logger) *indexer.Indexer {
	pool := workpool.New(intFlagOr(cmd, "workers", cfg.Features.Workers))
	loader := fingerprint.FileLoader{BaseDir: base}
	embedder := fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Features.Dim)
	detector := embedder
	if cfg.Embedding.DetectorURL != cfg.Embedding.URL {
		detector = fingerprint.NewEmbeddingClient(cfg.Embedding.DetectorURL, cfg.Features.Dim)
	}
	aggregator := fingerprint.NewAggregator(loader, embedder, pool, cfg.Features.Dim, log)

	return indexer.New(detector, embedder, loader, aggregator, pool, indexer.Options{
		MinScore:  constants.MinFaceScore,
		BatchSize: constants.AppendBatchSize,
		Dim:       cfg.Features.Dim,
	}, log)
}

func printAppended(out string, written int) {
	fmt.Printf("Appended %d entries to %s\n", written, out)
}

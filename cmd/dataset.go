package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/config"
	"github.com/kozaktomas/face-retrieval/internal/constants"
	"github.com/kozaktomas/face-retrieval/internal/database/postgres"
	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/workpool"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Inspect and maintain dataset files",
}

var datasetInfoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show the size of a dataset",
	Long: `Load a dataset file (a single bundle or a list of sub-bundles) and print
the number of entries. Defaults to DATASET_FEATS_FILE.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDatasetInfo,
}

var datasetBuildShardsCmd = &cobra.Command{
	Use:   "build-shards [file]",
	Short: "Build the nearest-neighbour shards used by sharded ranking",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDatasetBuildShards,
}

var datasetStripCmd = &cobra.Command{
	Use:   "strip-features [file]",
	Short: "Write a copy of the dataset without fingerprints",
	Long: `Write <name>_nofeats.<ext> next to the dataset. For list datasets every
sub-bundle is stripped and a new list references the stripped copies.
Sharded ranking only needs the stripped copy and the shards.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDatasetStrip,
}

var datasetSplitCmd = &cobra.Command{
	Use:   "split [file]",
	Short: "Split a single-bundle dataset into sub-bundles",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDatasetSplit,
}

var datasetPushCmd = &cobra.Command{
	Use:   "push-pg [file]",
	Short: "Mirror the dataset into PostgreSQL (pgvector)",
	Long: `Copy every dataset entry with its fingerprint into the dataset_faces table,
replacing rows previously pushed under the same name. Requires DATABASE_URL.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDatasetPush,
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetInfoCmd, datasetBuildShardsCmd, datasetStripCmd, datasetSplitCmd, datasetPushCmd)

	datasetInfoCmd.Flags().Bool("skip-features", false, "Accept bundles without fingerprints")
	datasetInfoCmd.Flags().Bool("json", false, "Output as JSON")

	datasetBuildShardsCmd.Flags().String("out", "", "Shard list file (default from KDTREES_FILE)")
	datasetBuildShardsCmd.Flags().Int("size", 0, "Entries per shard (default from KDTREES_DATASET_SPLIT_SIZE)")
	datasetBuildShardsCmd.Flags().Int("workers", 0, "Shards built in parallel (default from NUMBER_OF_HELPER_WORKERS)")

	datasetSplitCmd.Flags().Int("part-size", 100000, "Entries per sub-bundle")

	datasetPushCmd.Flags().String("name", "", "Dataset name in the mirror (default from DATASET_NAME)")
}

// datasetFile returns the dataset path from args or the configuration.
func datasetFile(args []string, cfg *config.Config) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if cfg.Dataset.FeaturesFile == "" {
		return "", errors.New("no dataset file given and DATASET_FEATS_FILE is not set")
	}
	return cfg.Dataset.FeaturesFile, nil
}

// DatasetInfo is the JSON form of dataset info.
type DatasetInfo struct {
	File         string `json:"file"`
	Entries      int    `json:"entries"`
	Fingerprints bool   `json:"fingerprints"`
}

func runDatasetInfo(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}
	path, err := datasetFile(args, cfg)
	if err != nil {
		return err
	}

	idx, err := dataset.Load(path, dataset.LoadOptions{
		SkipFingerprints: mustGetBool(cmd, "skip-features"),
		Dim:              cfg.Features.Dim,
	})
	if err != nil {
		return err
	}

	info := DatasetInfo{File: path, Entries: idx.Len(), Fingerprints: idx.HasFingerprints()}
	if mustGetBool(cmd, "json") {
		return outputJSON(info)
	}
	fmt.Printf("File:         %s\n", info.File)
	fmt.Printf("Entries:      %d\n", info.Entries)
	fmt.Printf("Fingerprints: %t\n", info.Fingerprints)
	return nil
}

func runDatasetBuildShards(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	path, err := datasetFile(args, cfg)
	if err != nil {
		return err
	}
	out := stringFlagOr(cmd, "out", cfg.Ranking.ShardsFile)
	if out == "" {
		return errors.New("no output file given and KDTREES_FILE is not set")
	}
	size := intFlagOr(cmd, "size", cfg.Ranking.ShardSize)
	workers := intFlagOr(cmd, "workers", cfg.Features.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := dataset.Load(path, dataset.LoadOptions{Dim: cfg.Features.Dim})
	if err != nil {
		return err
	}
	if !idx.HasFingerprints() {
		return fmt.Errorf("%s has no fingerprints to index", path)
	}

	if size <= 0 {
		return fmt.Errorf("shard size must be positive, got %d", size)
	}

	start := time.Now()
	bar := newProgressBar(dataset.ShardCount(idx.Len(), size), "Building shards", "shards")
	shards, err := dataset.BuildShardsFunc(ctx, idx, size, workpool.New(workers), graphParams(cfg), func() { _ = bar.Add(1) })
	if err != nil {
		return fmt.Errorf("building shards: %w", err)
	}
	fmt.Println()
	if err := dataset.SaveShards(out, shards); err != nil {
		return fmt.Errorf("saving shards: %w", err)
	}

	log.Info("shards built",
		zap.String("file", out),
		zap.Int("shards", len(shards)),
		zap.Int("entries", dataset.TotalSize(shards)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func graphParams(cfg *config.Config) dataset.GraphParams {
	return dataset.GraphParams{
		M:           cfg.Ranking.GraphM,
		EfSearch:    cfg.Ranking.EfSearch,
		Approximate: cfg.Ranking.GraphSearch,
	}
}

func runDatasetStrip(_ *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}
	path, err := datasetFile(args, cfg)
	if err != nil {
		return err
	}

	written, err := dataset.StripFingerprints(path)
	if err != nil {
		return err
	}
	for _, w := range written {
		fmt.Println(w)
	}
	return nil
}

func runDatasetSplit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}
	path, err := datasetFile(args, cfg)
	if err != nil {
		return err
	}

	parts, err := dataset.Split(path, mustGetInt(cmd, "part-size"))
	if err != nil {
		return err
	}
	fmt.Printf("Split %s into %d sub-bundles:\n", path, len(parts))
	for _, p := range parts {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func runDatasetPush(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	path, err := datasetFile(args, cfg)
	if err != nil {
		return err
	}
	name := stringFlagOr(cmd, "name", cfg.Dataset.Name)
	if name == "" {
		return errors.New("no dataset name given and DATASET_NAME is not set")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx, err := dataset.Load(path, dataset.LoadOptions{Dim: cfg.Features.Dim})
	if err != nil {
		return err
	}

	pool, applied, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("migrations", applied))
	}

	bar := newProgressBar(idx.Len(), "Mirroring faces", "faces")
	mirror := postgres.NewFaceMirror(pool, constants.MirrorBatchSize)
	if err := mirror.Push(ctx, name, idx, func(n int) { _ = bar.Add(n) }); err != nil {
		return fmt.Errorf("mirroring dataset: %w", err)
	}
	fmt.Println()

	count, err := mirror.Count(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("Mirrored %d faces as %q\n", count, name)
	return nil
}

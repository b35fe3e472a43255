package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-retrieval/internal/backend"
	"github.com/kozaktomas/face-retrieval/internal/config"
	"github.com/kozaktomas/face-retrieval/internal/database"
	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/engine"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
	"github.com/kozaktomas/face-retrieval/internal/session"
	"github.com/kozaktomas/face-retrieval/internal/web"
	"github.com/kozaktomas/face-retrieval/internal/workpool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the retrieval engine",
	Long: `Start the face retrieval engine.

The dataset named by DATASET_FEATS_FILE is loaded into memory. With
KDTREES_RANKING_ENABLED the shard list in KDTREES_FILE is loaded as well and
ranking searches the shards instead of scanning every fingerprint.

The engine answers "$$$"-terminated JSON requests on the TCP port and the same
requests (plus REST routes and /metrics) on the web port.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (default from HOST)")
	serveCmd.Flags().Int("port", 0, "TCP port (default from PORT)")
	serveCmd.Flags().Int("web-port", 0, "HTTP port (default from WEB_PORT)")
	serveCmd.Flags().Bool("no-web", false, "Serve the TCP transport only")
	serveCmd.Flags().String("dataset", "", "Dataset file (default from DATASET_FEATS_FILE)")
}

// loadRanking loads the dataset, and the shards when sharded ranking is on, and builds the engine.
func loadRanking(cfg *config.Config, log *zap.Logger) (*ranking.Engine, error) {
	if cfg.Dataset.FeaturesFile == "" {
		return nil, errors.New("DATASET_FEATS_FILE environment variable is required")
	}

	mode := ranking.ModeExact
	var shards []*dataset.Shard
	if cfg.Ranking.Sharded {
		if cfg.Ranking.ShardsFile == "" {
			return nil, errors.New("KDTREES_FILE is required when KDTREES_RANKING_ENABLED is set")
		}
		var err error
		shards, err = dataset.LoadShards(cfg.Ranking.ShardsFile, graphParams(cfg))
		if err != nil {
			return nil, fmt.Errorf("loading shards: %w", err)
		}
		if err := dataset.CheckShardDims(shards, cfg.Features.Dim); err != nil {
			return nil, fmt.Errorf("loading shards: %w", err)
		}
		mode = ranking.ModeSharded
		log.Info("shards loaded",
			zap.Int("shards", len(shards)),
			zap.Int("entries", dataset.TotalSize(shards)),
			zap.Bool("graph_search", cfg.Ranking.GraphSearch),
		)
	}

	idx, err := dataset.Load(cfg.Dataset.FeaturesFile, dataset.LoadOptions{
		SkipFingerprints: cfg.Ranking.Sharded,
		Dim:              cfg.Features.Dim,
	})
	if err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	log.Info("dataset loaded",
		zap.String("file", cfg.Dataset.FeaturesFile),
		zap.Int("entries", idx.Len()),
		zap.Bool("fingerprints", idx.HasFingerprints()),
	)

	eng, err := ranking.NewEngine(idx, shards, mode, cfg.Ranking.MaxResults, cfg.Ranking.ScoreCap)
	if err != nil {
		return nil, fmt.Errorf("building ranking engine: %w", err)
	}
	return eng, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg.Server.Host = stringFlagOr(cmd, "host", cfg.Server.Host)
	cfg.Server.Port = intFlagOr(cmd, "port", cfg.Server.Port)
	cfg.Server.WebPort = intFlagOr(cmd, "web-port", cfg.Server.WebPort)
	cfg.Dataset.FeaturesFile = stringFlagOr(cmd, "dataset", cfg.Dataset.FeaturesFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ranker, err := loadRanking(cfg, log)
	if err != nil {
		return err
	}

	annos, closer, err := database.OpenAnnotationStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("opening annotation store: %w", err)
	}
	defer closer.Close()

	pool := workpool.New(cfg.Features.Workers)
	loader := fingerprint.FileLoader{BaseDir: cfg.Dataset.ImagesBasePath}
	embedder := fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Features.Dim)
	detector := embedder
	if cfg.Embedding.DetectorURL != cfg.Embedding.URL {
		detector = fingerprint.NewEmbeddingClient(cfg.Embedding.DetectorURL, cfg.Features.Dim)
	}
	aggregator := fingerprint.NewAggregator(loader, embedder, pool, cfg.Features.Dim, log)

	store := session.NewStore()
	manager := session.NewManager(store, detector, loader, aggregator, ranker, annos, cfg.Features.ExtractionTimeout, log)
	dispatcher := engine.NewDispatcher(manager, log)

	log.Info("engine ready",
		zap.String("dataset", cfg.Dataset.Name),
		zap.String("mode", string(ranker.Mode())),
		zap.Int("workers", pool.Size()),
		zap.String("annotations", cfg.Annotations.Backend),
	)

	g, gctx := errgroup.WithContext(ctx)

	tcp := backend.NewServer(net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)), dispatcher, log)
	g.Go(func() error { return tcp.ListenAndServe(gctx) })

	if !mustGetBool(cmd, "no-web") {
		server := web.NewServer(web.Options{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.WebPort,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, dispatcher, store, log)

		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	log.Info("engine stopped")
	return nil
}

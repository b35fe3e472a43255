package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/config"
	"github.com/kozaktomas/face-retrieval/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "face-retrieval",
	Short: "On-the-fly face retrieval engine",
	Long: `Face Retrieval trains a fingerprint from a handful of example face images
and ranks a pre-indexed face dataset by distance to it.

The engine is served over TCP ("$$$"-terminated JSON) and HTTP. The dataset
and index commands build and maintain the face dataset it ranks.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadRuntime loads the configuration and builds the logger it asks for.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, log, nil
}

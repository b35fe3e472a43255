package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-retrieval/internal/backend"
	"github.com/kozaktomas/face-retrieval/internal/constants"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
)

var clientCmd = &cobra.Command{
	Use:   "client <image>...",
	Short: "Run a query against a running engine",
	Long: `Run one query over the TCP transport: open a session, add the given images
as positive examples, train, rank, print the best results and release the session.

Examples:
  face-retrieval client face1.jpg face2.jpg
  face-retrieval client --addr 10.0.0.5:55302 --top 50 --out ranking.tsv face.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().String("addr", "", "Engine address (default HOST:PORT)")
	clientCmd.Flags().String("dataset", "", "Dataset name (default from DATASET_NAME)")
	clientCmd.Flags().String("out", "", "Write the full ranking to this file instead of printing the top results")
	clientCmd.Flags().Int("top", constants.DefaultTopResults, "Number of results to print")
	clientCmd.Flags().Duration("timeout", constants.DefaultClientTimeout, "Timeout of each request")
	clientCmd.Flags().Bool("json", false, "Output as JSON")
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}

	addr := mustGetString(cmd, "addr")
	if addr == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}
	datasetName := stringFlagOr(cmd, "dataset", cfg.Dataset.Name)
	if datasetName == "" {
		datasetName = "default"
	}

	ctx := context.Background()
	q := backend.NewQueryClient(backend.NewClient(addr, mustGetDuration(cmd, "timeout")))

	if err := q.SelfTest(ctx); err != nil {
		return fmt.Errorf("engine at %s is not available: %w", addr, err)
	}

	id, err := q.Open(ctx, datasetName)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Release(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to release query %d: %v\n", id, err)
		}
	}()

	for _, image := range args {
		if err := q.AddImage(ctx, id, image, true); err != nil {
			return err
		}
	}
	if err := q.Train(ctx, id); err != nil {
		return err
	}
	if err := q.Rank(ctx, id); err != nil {
		return err
	}
	entries, err := q.Ranking(ctx, id)
	if err != nil {
		return err
	}

	if out := mustGetString(cmd, "out"); out != "" {
		if err := writeRanking(out, entries); err != nil {
			return err
		}
		fmt.Printf("Wrote %d results to %s\n", len(entries), out)
		return nil
	}

	top := entries[:max(0, min(mustGetInt(cmd, "top"), len(entries)))]
	if mustGetBool(cmd, "json") {
		return outputJSON(top)
	}
	fmt.Printf("Query %d: %d results\n\n", id, len(entries))
	printRanking(os.Stdout, top)
	return nil
}

func printRanking(w io.Writer, entries []ranking.Entry) {
	for i, e := range entries {
		fmt.Fprintf(w, "%4d  %.4f  %s  %s\n", i+1, e.Score, e.Path, e.ROI)
	}
}

func writeRanking(path string, entries []ranking.Entry) error {
	f, err := os.Create(path) //nolint:gosec // output path is given by the operator
	if err != nil {
		return fmt.Errorf("creating ranking file: %w", err)
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(f, "%s\t%s\t%g\n", e.Path, e.ROI, e.Score); err != nil {
			f.Close()
			return fmt.Errorf("writing ranking file: %w", err)
		}
	}
	return f.Close()
}

// flare-ingest - Load a label manifest into ClickHouse
//
// Reads the Parquet manifest written by flare-label and inserts it into the
// image label table over the native protocol. Every row of one run shares
// a generated run_id.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/flare-ingest ./cmd/flare-ingest

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/dataset"
	"github.com/KI7MT/flare-lab/internal/store"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	cmd := &cobra.Command{
		Use:           "flare-ingest [manifest.parquet]",
		Short:         "Insert a Parquet label manifest into ClickHouse",
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	common.AddGlobalFlags(flags)
	common.AddClickHouseFlags(flags)
	flags.String("manifest", "", "Parquet manifest written by flare-label")
	flags.String("catalog-name", "", "Catalog name recorded with each row (default base name of the catalog path)")
	flags.Int("batch-size", store.DefaultBatchSize, "Rows per INSERT")
	flags.Bool("truncate", false, "Truncate the table before insert")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := common.ConfigFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Manifest = args[0]
	}
	if cfg.Manifest == "" {
		return errors.New("no manifest given (use --manifest or an argument)")
	}
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	truncate, _ := cmd.Flags().GetBool("truncate")

	logger, err := common.NewLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, cancel := common.SignalContext(func(msg string) { log.Warn(msg) })
	defer cancel()

	out := cmd.OutOrStdout()
	common.Banner(out, fmt.Sprintf("Flare Ingest v%s", Version))
	fmt.Fprintf(out, "Manifest:   %s\n", cfg.Manifest)
	fmt.Fprintf(out, "ClickHouse: %s\n", cfg.ClickHouseAddr())
	fmt.Fprintf(out, "Table:      %s\n", cfg.TableFQN())
	fmt.Fprintln(out)

	records, err := dataset.ReadParquet(cfg.Manifest)
	if err != nil {
		return err
	}
	log.Infow("manifest loaded", "records", len(records))

	catalog := cfg.CatalogLabel()

	log.Infow("connecting to ClickHouse", "addr", cfg.ClickHouseAddr())
	conn, err := store.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	stats := common.NewStats("Ingest")
	w := &store.Writer{
		Conn:      conn,
		Table:     cfg.TableFQN(),
		BatchSize: batchSize,
		Logger:    log,
		Stats:     stats,
	}

	if err := w.EnsureTable(ctx); err != nil {
		return err
	}
	if truncate {
		log.Infow("truncating table", "table", w.Table)
		if err := w.Truncate(ctx); err != nil {
			log.Warnw("truncate failed", "error", err)
		}
	}

	runID := uuid.New()
	startTime := time.Now()
	stats.StartReporter()
	inserted, err := w.Insert(ctx, runID, catalog, records)
	stats.StopReporter()
	if err != nil {
		return err
	}
	elapsed := time.Since(startTime)

	fmt.Fprintln(out)
	common.Banner(out, "Final Statistics")
	fmt.Fprintf(out, "Run ID:   %s\n", runID)
	fmt.Fprintf(out, "Inserted: %s rows\n", humanize.Comma(int64(inserted)))
	fmt.Fprintf(out, "Elapsed:  %v\n", elapsed.Round(time.Millisecond))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(out, "Rate:     %.0f rows/sec\n", float64(inserted)/secs)
	}
	common.Rule(out)
	return nil
}

// flare-label - Label solar images by flare class and sort them into buckets
//
// Reads an NGDC GOES X-ray flare catalog, resolves the dominant flare class
// for every YYYYMMDD_HHMM.<ext> image by class-specific prediction windows,
// and hard links (or copies) each image into:
//
//	<output>/detailed_classification/next24h_<CLASS>/
//	<output>/detailed_classification/no_flare/
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/flare-label ./cmd/flare-label

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/dataset"
	"github.com/KI7MT/flare-lab/internal/flare"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

// maxSkipLines caps the skipped-file listing in the summary.
const maxSkipLines = 20

func main() {
	cmd := &cobra.Command{
		Use:           "flare-label",
		Short:         "Label solar images by flare class and sort them into buckets",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	common.AddGlobalFlags(flags)
	flags.String("catalog", "", "NGDC flare catalog (.txt or .txt.gz, default <data-dir>/ngdc/goes-xrs-report.txt)")
	flags.String("time-token", "start", "Catalog time column used as event time (start or peak)")
	flags.String("image-dir", "", "Image directory (default <data-dir>/dataset)")
	flags.String("output-dir", "", "Output root (default <data-dir>/classified_dataset)")
	flags.String("image-ext", dataset.DefaultExt, "Image file extension")
	flags.String("place-mode", common.PlaceLink, "Placement: link, copy or auto (link, falling back to copy)")
	flags.String("manifest", "", "Write a manifest (.parquet, .csv or .csv.gz)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := common.ConfigFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := common.NewLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, cancel := common.SignalContext(func(msg string) { log.Warn(msg) })
	defer cancel()

	out := cmd.OutOrStdout()
	common.Banner(out, fmt.Sprintf("Flare Label v%s", Version))
	fmt.Fprintf(out, "Catalog:    %s\n", cfg.CatalogPath())
	fmt.Fprintf(out, "Time token: %s\n", cfg.Parser().Token)
	fmt.Fprintf(out, "Images:     %s (*%s)\n", cfg.ImagesDir(), cfg.ImageExt)
	fmt.Fprintf(out, "Output:     %s\n", cfg.ClassifiedDir())
	fmt.Fprintf(out, "Placement:  %s\n", cfg.PlaceMode)
	fmt.Fprintln(out)

	startTime := time.Now()

	events, cstats, err := flare.LoadCatalog(cfg.CatalogPath(), cfg.Parser(), func(lineNum int64, line string, reason error) {
		log.Debugw("catalog line skipped", "line", lineNum, "reason", reason, "text", line)
	})
	if err != nil {
		return err
	}
	log.Infow("catalog loaded",
		"lines", cstats.TotalLines, "events", cstats.Parsed, "skipped", cstats.Skipped)

	idx := flare.NewIndex(events, flare.DefaultTables())
	counts := idx.Counts()

	stats := common.NewStats("Label")
	org := &dataset.Organizer{
		Labeler: idx,
		Layout:  dataset.Layout{Root: cfg.ClassifiedDir()},
		Ext:     cfg.ImageExt,
		Mode:    dataset.PlaceMode(cfg.PlaceMode),
		Logger:  log,
		Stats:   stats,
	}

	stats.StartReporter()
	res, err := org.Run(ctx, cfg.ImagesDir())
	stats.StopReporter()
	if err != nil {
		return err
	}

	if cfg.Manifest != "" {
		if err := dataset.WriteManifest(cfg.Manifest, res.Records); err != nil {
			return err
		}
		log.Infow("manifest written", "path", cfg.Manifest, "records", len(res.Records))
	}

	elapsed := time.Since(startTime)

	fmt.Fprintln(out)
	common.Banner(out, "Catalog Events")
	var eventRows [][]string
	for _, c := range flare.Classes {
		eventRows = append(eventRows, []string{c.String(), humanize.Comma(int64(counts[c]))})
	}
	eventRows = append(eventRows, []string{"skipped lines", humanize.Comma(cstats.Skipped)})
	if err := common.RenderTable(out, []string{"Class", "Events"}, eventRows); err != nil {
		return err
	}

	fmt.Fprintln(out)
	common.Banner(out, "Label Summary")
	var rows [][]string
	for _, c := range flare.Classes {
		rows = append(rows, []string{dataset.BucketName(c), humanize.Comma(int64(res.Placed[c]))})
	}
	rows = append(rows, []string{dataset.NoFlareBucket, humanize.Comma(int64(res.Placed[flare.NoFlare]))})
	rows = append(rows, []string{"skipped", humanize.Comma(int64(len(res.Skipped)))})
	if err := common.RenderTable(out, []string{"Bucket", "Images"}, rows); err != nil {
		return err
	}

	for i, s := range res.Skipped {
		if i == maxSkipLines {
			fmt.Fprintf(out, "  ... and %d more\n", len(res.Skipped)-maxSkipLines)
			break
		}
		fmt.Fprintf(out, "  Skipping %s: %s\n", s.File, s.Reason)
	}

	fmt.Fprintf(out, "Placed:  %s images\n", humanize.Comma(int64(res.Total())))
	fmt.Fprintf(out, "Elapsed: %v\n", elapsed.Round(time.Millisecond))
	common.Rule(out)
	return nil
}

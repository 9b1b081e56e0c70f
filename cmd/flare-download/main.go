// flare-download - Download hourly solar images from the Helioviewer API
//
// Fetches one JP2 image per hour between --start and --end (inclusive) into
// the image directory as YYYYMMDD_HHMM.jp2. Existing non-empty files are
// skipped, so an interrupted run resumes where it stopped.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/flare-download ./cmd/flare-download

package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/helioviewer"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

// errFailed marks a run where some images could not be fetched.
var errFailed = errors.New("some downloads failed")

func main() {
	cmd := &cobra.Command{
		Use:           "flare-download",
		Short:         "Download hourly JP2 solar images from Helioviewer",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	common.AddGlobalFlags(flags)
	flags.String("image-dir", "", "Destination directory (default <data-dir>/dataset)")
	flags.String("start", "2013-09-10T00:00", "First image time, UTC")
	flags.String("end", "2014-01-01T00:00", "Last image time, UTC (inclusive)")
	flags.String("helioviewer-url", helioviewer.DefaultBaseURL, "Helioviewer API base URL")
	flags.Int("source-id", helioviewer.DefaultSourceID, "Helioviewer source id (14 = AIA 171)")
	flags.Int("workers", helioviewer.DefaultWorkers, "Concurrent downloads")
	flags.Int("attempts", helioviewer.DefaultAttempts, "Attempts per image")
	flags.Duration("retry-delay", helioviewer.DefaultInitialDelay, "First retry delay, doubled per retry")
	flags.Duration("timeout", helioviewer.DefaultTimeout, "HTTP timeout per request")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9108)")
	flags.Bool("dry-run", false, "List the URLs without downloading")

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
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	start, end, err := cfg.DownloadRange()
	if err != nil {
		return err
	}
	times := helioviewer.Hourly(start, end)

	logger, err := common.NewLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	client := helioviewer.NewClient(cfg.HelioviewerURL, cfg.SourceID, cfg.Timeout)

	out := cmd.OutOrStdout()
	if dryRun {
		for _, t := range times {
			fmt.Fprintln(out, client.ImageURL(t))
		}
		return nil
	}

	common.Banner(out, fmt.Sprintf("Flare Download v%s", Version))
	fmt.Fprintf(out, "Source:      %s (sourceId=%d)\n", client.BaseURL, client.SourceID)
	fmt.Fprintf(out, "Range:       %s .. %s (%s images)\n",
		start.Format(time.RFC3339), end.Format(time.RFC3339), humanize.Comma(int64(len(times))))
	fmt.Fprintf(out, "Destination: %s\n", cfg.ImagesDir())
	fmt.Fprintf(out, "Workers:     %d\n", cfg.Workers)
	fmt.Fprintf(out, "Retries:     %d attempts, %v initial delay\n", cfg.Attempts, cfg.RetryDelay)
	fmt.Fprintln(out)

	ctx, cancel := common.SignalContext(func(msg string) { log.Warn(msg) })
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics, err := helioviewer.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, reg, log)
	}

	stats := common.NewStats("Download")
	d := &helioviewer.Downloader{
		Client:       client,
		Dest:         cfg.ImagesDir(),
		Ext:          cfg.ImageExt,
		Workers:      cfg.Workers,
		Attempts:     cfg.Attempts,
		InitialDelay: cfg.RetryDelay,
		Logger:       log,
		Stats:        stats,
		Metrics:      metrics,
	}

	startTime := time.Now()
	stats.StartReporter()
	sum, runErr := d.Run(ctx, times)
	stats.StopReporter()
	elapsed := time.Since(startTime)

	fmt.Fprintln(out)
	common.Banner(out, "Download Summary")
	if err := common.RenderTable(out, []string{"Outcome", "Images"}, [][]string{
		{"downloaded", humanize.Comma(sum.Downloaded)},
		{"skipped", humanize.Comma(sum.Skipped)},
		{"failed", humanize.Comma(sum.Failed)},
		{"retries", humanize.Comma(sum.Retries)},
	}); err != nil {
		return err
	}
	for _, t := range sum.Failures {
		fmt.Fprintf(out, "  Failed: %s\n", client.ImageURL(t))
	}
	fmt.Fprintf(out, "Bytes:   %s\n", humanize.IBytes(uint64(sum.Bytes)))
	fmt.Fprintf(out, "Elapsed: %v\n", elapsed.Round(time.Millisecond))
	common.Rule(out)

	if runErr != nil {
		return runErr
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errFailed, sum.Failed, len(times))
	}
	return nil
}

// serveMetrics exposes reg on addr until the process exits.
func serveMetrics(addr string, reg *prometheus.Registry, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Infow("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics listener stopped", "error", err)
		}
	}()
}

// flare-report - Label distribution report from ClickHouse
//
// Prints image counts per bucket and, with --monthly, per month and bucket
// from the image label table filled by flare-ingest.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/flare-report ./cmd/flare-report

package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/store"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	cmd := &cobra.Command{
		Use:           "flare-report",
		Short:         "Report the label distribution stored in ClickHouse",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	common.AddGlobalFlags(flags)
	common.AddClickHouseFlags(flags)
	flags.Bool("monthly", false, "Break the distribution down by month")

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
	monthly, _ := cmd.Flags().GetBool("monthly")

	ctx, cancel := common.SignalContext(nil)
	defer cancel()

	conn, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	r := &store.Reporter{Conn: conn, Table: cfg.TableFQN()}
	out := cmd.OutOrStdout()

	common.Banner(out, fmt.Sprintf("Flare Report v%s - %s", Version, cfg.TableFQN()))

	dist, err := r.Distribution(ctx)
	if err != nil {
		return err
	}
	var total uint64
	rows := make([][]string, 0, len(dist)+1)
	for _, bc := range dist {
		total += bc.Count
		rows = append(rows, []string{bc.Bucket, humanize.Comma(int64(bc.Count))})
	}
	rows = append(rows, []string{"total", humanize.Comma(int64(total))})
	if err := common.RenderTable(out, []string{"Bucket", "Images"}, rows); err != nil {
		return err
	}

	if monthly {
		months, err := r.Monthly(ctx)
		if err != nil {
			return err
		}
		rows = rows[:0]
		for _, mc := range months {
			rows = append(rows, []string{mc.Month.Format("2006-01"), mc.Bucket, humanize.Comma(int64(mc.Count))})
		}
		fmt.Fprintln(out)
		if err := common.RenderTable(out, []string{"Month", "Bucket", "Images"}, rows); err != nil {
			return err
		}
	}

	common.Rule(out)
	return nil
}

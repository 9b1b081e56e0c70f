// flare-catalog - Inspect an NGDC flare catalog
//
// Parses the catalog without touching any images and reports how many
// lines became events, per-class counts and why lines were rejected.
// With --at, resolves the dominant class for the given timestamps.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/flare-catalog ./cmd/flare-catalog

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/flare"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	cmd := &cobra.Command{
		Use:           "flare-catalog [catalog]",
		Short:         "Parse an NGDC flare catalog and report what it contains",
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	common.AddGlobalFlags(flags)
	flags.String("catalog", "", "NGDC flare catalog (default <data-dir>/ngdc/goes-xrs-report.txt)")
	flags.String("time-token", "start", "Catalog time column used as event time (start or peak)")
	flags.Int("show-skipped", 10, "Rejected lines to list (0 lists none, -1 lists all)")
	flags.Bool("events", false, "Print every parsed event")
	flags.StringSlice("at", nil, "Resolve the label at these times (YYYYMMDD_HHMM or RFC3339)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rejected struct {
	line   int64
	text   string
	reason error
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := common.ConfigFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Catalog = args[0]
	}

	showSkipped, _ := cmd.Flags().GetInt("show-skipped")
	printEvents, _ := cmd.Flags().GetBool("events")
	queries, _ := cmd.Flags().GetStringSlice("at")

	out := cmd.OutOrStdout()
	common.Banner(out, fmt.Sprintf("Flare Catalog v%s", Version))
	fmt.Fprintf(out, "Catalog:    %s\n", cfg.CatalogPath())
	fmt.Fprintf(out, "Time token: %s\n", cfg.Parser().Token)
	fmt.Fprintln(out)

	var skipped []rejected
	reasons := make(map[string]int64)
	events, stats, err := flare.LoadCatalog(cfg.CatalogPath(), cfg.Parser(), func(n int64, line string, reason error) {
		reasons[reasonKey(reason)]++
		if showSkipped < 0 || len(skipped) < showSkipped {
			skipped = append(skipped, rejected{line: n, text: line, reason: reason})
		}
	})
	if err != nil {
		return err
	}

	idx := flare.NewIndex(events, flare.DefaultTables())
	counts := idx.Counts()

	var rows [][]string
	for _, c := range flare.Classes {
		rows = append(rows, []string{c.String(), humanize.Comma(int64(counts[c]))})
	}
	if err := common.RenderTable(out, []string{"Class", "Events"}, rows); err != nil {
		return err
	}

	fmt.Fprintln(out)
	rows = rows[:0]
	for _, key := range []string{"short line", "long line", "time tokens", "date", "time", "no class"} {
		if n := reasons[key]; n > 0 {
			rows = append(rows, []string{key, humanize.Comma(n)})
		}
	}
	if len(rows) > 0 {
		if err := common.RenderTable(out, []string{"Rejected", "Lines"}, rows); err != nil {
			return err
		}
	}

	for _, s := range skipped {
		fmt.Fprintf(out, "  line %d: %v\n    %q\n", s.line, s.reason, s.text)
	}

	if printEvents {
		fmt.Fprintln(out)
		for _, ev := range events {
			fmt.Fprintln(out, ev)
		}
	}

	if len(queries) > 0 {
		fmt.Fprintln(out)
		rows = rows[:0]
		for _, q := range queries {
			t, err := parseQueryTime(q)
			if err != nil {
				return err
			}
			label := idx.Label(t).String()
			if label == "" {
				label = "-"
			}
			rows = append(rows, []string{t.Format("2006-01-02 15:04"), label})
		}
		if err := common.RenderTable(out, []string{"Time", "Label"}, rows); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	common.Rule(out)
	fmt.Fprintf(out, "Lines:   %s\n", humanize.Comma(stats.TotalLines))
	fmt.Fprintf(out, "Events:  %s\n", humanize.Comma(stats.Parsed))
	fmt.Fprintf(out, "Skipped: %s\n", humanize.Comma(stats.Skipped))
	common.Rule(out)
	return nil
}

// reasonKey groups parse failures by their sentinel.
func reasonKey(err error) string {
	switch {
	case errors.Is(err, flare.ErrShortLine):
		return "short line"
	case errors.Is(err, flare.ErrLongLine):
		return "long line"
	case errors.Is(err, flare.ErrTimeTokens):
		return "time tokens"
	case errors.Is(err, flare.ErrDate):
		return "date"
	case errors.Is(err, flare.ErrTime):
		return "time"
	}
	return "no class"
}

func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range []string{"20060102_1504", time.RFC3339, "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse --at %q", s)
}

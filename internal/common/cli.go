package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/pflag"
)

const bannerRule = "========================================================="

// Banner prints the title block the flare-lab tools open with.
func Banner(w io.Writer, title string) {
	fmt.Fprintln(w, bannerRule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, bannerRule)
}

// Rule prints a single separator line.
func Rule(w io.Writer) {
	fmt.Fprintln(w, bannerRule)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(log func(string)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			if log != nil {
				log("Shutdown requested...")
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// RenderTable writes rows under headers with right-aligned cells.
func RenderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

// AddGlobalFlags registers the flags every flare-lab command accepts.
// Names match Config keys so LoadConfig can bind them.
func AddGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Config file (default ./flare-lab.yaml or ~/.config/flare-lab.yaml)")
	flags.String("data-dir", defaults["data-dir"].(string), "Base data directory")
	flags.String("log-level", defaults["log-level"].(string), "Log level (debug, info, warn, error)")
	flags.String("log-encoding", defaults["log-encoding"].(string), "Log encoding (console or json)")
}

// AddClickHouseFlags registers connection flags for commands that talk to
// ClickHouse.
func AddClickHouseFlags(flags *pflag.FlagSet) {
	flags.String("clickhouse-host", defaults["clickhouse-host"].(string), "ClickHouse host or host:port")
	flags.Int("clickhouse-port", defaults["clickhouse-port"].(int), "ClickHouse native port")
	flags.String("clickhouse-database", defaults["clickhouse-database"].(string), "ClickHouse database")
	flags.String("clickhouse-table", defaults["clickhouse-table"].(string), "ClickHouse label table")
}

// ConfigFromFlags loads configuration using the --config flag value, if
// one was registered.
func ConfigFromFlags(flags *pflag.FlagSet) (*Config, error) {
	file, _ := flags.GetString("config")
	return LoadConfig(flags, strings.TrimSpace(file))
}

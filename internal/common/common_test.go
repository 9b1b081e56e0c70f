package common

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/KI7MT/flare-lab/internal/flare"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.ClickHouseHost)
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, ".jp2", cfg.ImageExt)
	assert.Equal(t, PlaceLink, cfg.PlaceMode)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, 14, cfg.SourceID)
	assert.Equal(t, "localhost:9000", cfg.ClickHouseAddr())
	assert.Equal(t, "flare.image_labels", cfg.TableFQN())
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flare-lab.yaml")
	require.NoError(t, os.WriteFile(file, []byte(strings.Join([]string{
		"workers: 8",
		"time-token: peak",
		"data-dir: /srv/flare",
		"retry-delay: 2s",
	}, "\n")), 0o644))

	t.Setenv("FLARELAB_WORKERS", "3")
	t.Setenv("CLICKHOUSE_HOST", "ch.example:9440")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("place-mode", PlaceLink, "")
	flags.Int("attempts", 3, "")
	require.NoError(t, flags.Parse([]string{"--place-mode", "copy"}))

	cfg, err := LoadConfig(flags, file)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers, "env beats file")
	assert.Equal(t, "peak", cfg.TimeToken, "file beats default")
	assert.Equal(t, PlaceCopy, cfg.PlaceMode, "flag beats default")
	assert.Equal(t, 3, cfg.Attempts, "unset flag keeps default")
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, "ch.example:9440", cfg.ClickHouseAddr())

	assert.Equal(t, flare.PeakToken, cfg.Parser().Token)
	assert.Equal(t, filepath.Join("/srv/flare", "dataset"), cfg.ImagesDir())
	assert.Equal(t, filepath.Join("/srv/flare", "classified_dataset"), cfg.ClassifiedDir())
	assert.Equal(t, filepath.Join("/srv/flare", "ngdc", "goes-xrs-report.txt"), cfg.CatalogPath())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad token", func(c *Config) { c.TimeToken = "end" }, true},
		{"bad mode", func(c *Config) { c.PlaceMode = "move" }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"zero attempts", func(c *Config) { c.Attempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigValidate_NormalizesExt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageExt = "fits"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".fits", cfg.ImageExt)
}

func TestNewLogger(t *testing.T) {
	for _, enc := range []string{"console", "json"} {
		l, err := NewLogger("DEBUG", enc)
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel), "debug enabled")
	}

	l, err := NewLogger("bogus", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel), "falls back to info")

	assert.NotNil(t, Sugar(nil))
}

// syncBuffer guards a bytes.Buffer shared with the reporter goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStatsReporter(t *testing.T) {
	s := NewStats("Label")
	out := &syncBuffer{}
	s.SetOutput(out, 5*time.Millisecond)

	s.AddItems(3)
	s.AddBytes(2048)
	s.StartReporter()
	s.StartReporter() // second start is a no-op

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Total: 3 files")
	}, time.Second, 5*time.Millisecond)

	s.StopReporter()
	s.StopReporter()

	assert.Equal(t, uint64(3), s.Items())
	assert.Equal(t, uint64(2048), s.Bytes())
	assert.True(t, strings.HasPrefix(out.String(), "[Label] "))
}

func TestStatsSilent(t *testing.T) {
	s := NewStats("Quiet")
	out := &syncBuffer{}
	s.SetOutput(out, time.Millisecond)
	s.SetSilent(true)
	s.AddItems(1)

	s.StartReporter()
	time.Sleep(10 * time.Millisecond)
	s.StopReporter()

	assert.Empty(t, out.String())
}

func TestDownloadRange(t *testing.T) {
	cfg := DefaultConfig()
	start, end, err := cfg.DownloadRange()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2013, 9, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), end)

	cfg.Start, cfg.End = "2013-09-10", "2013-09-10T05:30:00"
	start, end, err = cfg.DownloadRange()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Hour+30*time.Minute, end.Sub(start))

	cfg.End = "2013-09-09"
	_, _, err = cfg.DownloadRange()
	assert.Error(t, err, "end before start")

	cfg.Start = "yesterday"
	_, _, err = cfg.DownloadRange()
	assert.Error(t, err)
}

func TestBannerAndTable(t *testing.T) {
	var buf bytes.Buffer
	Banner(&buf, "Flare Label v1.0.0")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Flare Label v1.0.0", lines[1])
	assert.Equal(t, lines[0], lines[2])

	buf.Reset()
	require.NoError(t, RenderTable(&buf, []string{"Bucket", "Images"}, [][]string{
		{"next24h_X", "12"},
		{"no_flare", "1,024"},
	}))
	out := buf.String()
	assert.Contains(t, out, "next24h_X")
	assert.Contains(t, out, "1,024")
}

func TestConfigFromFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddGlobalFlags(flags)
	AddClickHouseFlags(flags)
	require.NoError(t, flags.Parse([]string{"--clickhouse-table", "labels_v2", "--log-level", "debug"}))

	cfg, err := ConfigFromFlags(flags)
	require.NoError(t, err)
	assert.Equal(t, "flare.labels_v2", cfg.TableFQN())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfigCatalogLabel(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "goes-xrs-report.txt", cfg.CatalogLabel())

	cfg.Catalog = "/data/ngdc/goes-xrs-2013.txt.gz"
	assert.Equal(t, "goes-xrs-2013.txt.gz", cfg.CatalogLabel(), "follows the catalog path")

	cfg.CatalogName = "ngdc-goes-xrs"
	assert.Equal(t, "ngdc-goes-xrs", cfg.CatalogLabel())
	assert.Equal(t, "/data/ngdc/goes-xrs-2013.txt.gz", cfg.CatalogPath(), "name does not redirect the path")
}

func TestConfigFromFlags_CatalogName(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddGlobalFlags(flags)
	flags.String("catalog-name", "", "")
	require.NoError(t, flags.Parse([]string{"--catalog-name", "ngdc-goes-xrs"}))

	cfg, err := ConfigFromFlags(flags)
	require.NoError(t, err)
	assert.Equal(t, "ngdc-goes-xrs", cfg.CatalogLabel())
	assert.Empty(t, cfg.Catalog, "catalog path key untouched")
}

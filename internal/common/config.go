// Package common provides shared utilities for the flare-lab applications.
package common

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/KI7MT/flare-lab/internal/flare"
)

// EnvPrefix prefixes every configuration key read from the environment.
const EnvPrefix = "FLARELAB"

// Placement modes for organizing images.
const (
	PlaceLink = "link"
	PlaceCopy = "copy"
	PlaceAuto = "auto"
)

// Config holds common configuration for all applications.
type Config struct {
	ClickHouseHost     string `mapstructure:"clickhouse-host"`
	ClickHousePort     int    `mapstructure:"clickhouse-port"`
	ClickHouseDatabase string `mapstructure:"clickhouse-database"`
	ClickHouseTable    string `mapstructure:"clickhouse-table"`
	ClickHouseUser     string `mapstructure:"clickhouse-user"`
	ClickHousePassword string `mapstructure:"clickhouse-password"`
	DataDir            string `mapstructure:"data-dir"`
	LogLevel           string `mapstructure:"log-level"`
	LogEncoding        string `mapstructure:"log-encoding"`

	// Labeling
	Catalog   string `mapstructure:"catalog"`
	TimeToken string `mapstructure:"time-token"`
	ImageDir  string `mapstructure:"image-dir"`
	OutputDir string `mapstructure:"output-dir"`
	ImageExt  string `mapstructure:"image-ext"`
	PlaceMode string `mapstructure:"place-mode"`
	Manifest  string `mapstructure:"manifest"`

	// Ingest
	CatalogName string `mapstructure:"catalog-name"`

	// Downloading
	HelioviewerURL string        `mapstructure:"helioviewer-url"`
	SourceID       int           `mapstructure:"source-id"`
	Start          string        `mapstructure:"start"`
	End            string        `mapstructure:"end"`
	Workers        int           `mapstructure:"workers"`
	Attempts       int           `mapstructure:"attempts"`
	RetryDelay     time.Duration `mapstructure:"retry-delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MetricsAddr    string        `mapstructure:"metrics-addr"`
}

// defaults mirror DefaultConfig; every key must appear here for viper to
// resolve it from the environment.
var defaults = map[string]any{
	"clickhouse-host":     "localhost",
	"clickhouse-port":     9000,
	"clickhouse-database": "flare",
	"clickhouse-table":    "image_labels",
	"clickhouse-user":     "default",
	"clickhouse-password": "",
	"data-dir":            "/var/lib/flare-lab",
	"log-level":           "info",
	"log-encoding":        "console",
	"catalog":             "",
	"time-token":          "start",
	"image-dir":           "",
	"output-dir":          "",
	"image-ext":           ".jp2",
	"place-mode":          PlaceLink,
	"manifest":            "",
	"catalog-name":        "",
	"helioviewer-url":     "https://api.helioviewer.org",
	"source-id":           14,
	"start":               "2013-09-10T00:00",
	"end":                 "2014-01-01T00:00",
	"workers":             5,
	"attempts":            3,
	"retry-delay":         5 * time.Second,
	"timeout":             60 * time.Second,
	"metrics-addr":        "",
}

// Environment variables shared with the other lab tools.
var legacyEnv = map[string]string{
	"clickhouse-host":     "CLICKHOUSE_HOST",
	"clickhouse-database": "CLICKHOUSE_DATABASE",
	"clickhouse-user":     "CLICKHOUSE_USER",
	"clickhouse-password": "CLICKHOUSE_PASSWORD",
	"data-dir":            "KI7MT_DATA_DIR",
	"log-level":           "LOG_LEVEL",
}

// DefaultConfig returns configuration with sensible defaults, ignoring the
// environment.
func DefaultConfig() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// LoadConfig merges defaults, an optional YAML file, the environment and
// any set flags, in increasing order of precedence.
func LoadConfig(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("flare-lab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+envKey(key), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Validate checks option values that have a closed set of choices.
func (c *Config) Validate() error {
	if _, err := flare.ParseTimeToken(c.TimeToken); err != nil {
		return err
	}
	switch c.PlaceMode {
	case PlaceLink, PlaceCopy, PlaceAuto:
	default:
		return fmt.Errorf("unknown place mode %q (want link, copy or auto)", c.PlaceMode)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Attempts < 1 {
		return fmt.Errorf("attempts must be at least 1, got %d", c.Attempts)
	}
	if c.ImageExt != "" && !strings.HasPrefix(c.ImageExt, ".") {
		c.ImageExt = "." + c.ImageExt
	}
	return nil
}

// Parser returns the catalog parser selected by TimeToken.
func (c *Config) Parser() flare.Parser {
	tok, _ := flare.ParseTimeToken(c.TimeToken)
	return flare.Parser{Token: tok}
}

// ImagesDir returns the raw image directory path.
func (c *Config) ImagesDir() string {
	if c.ImageDir != "" {
		return c.ImageDir
	}
	return filepath.Join(c.DataDir, "dataset")
}

// ClassifiedDir returns the output root for class buckets.
func (c *Config) ClassifiedDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return filepath.Join(c.DataDir, "classified_dataset")
}

// CatalogPath returns the flare catalog path.
func (c *Config) CatalogPath() string {
	if c.Catalog != "" {
		return c.Catalog
	}
	return filepath.Join(c.DataDir, "ngdc", "goes-xrs-report.txt")
}

// CatalogLabel returns the catalog name stored with ingested rows:
// CatalogName when set, otherwise the base name of CatalogPath.
func (c *Config) CatalogLabel() string {
	if c.CatalogName != "" {
		return c.CatalogName
	}
	return filepath.Base(c.CatalogPath())
}

// ClickHouseAddr returns host:port for the native protocol.
func (c *Config) ClickHouseAddr() string {
	if strings.Contains(c.ClickHouseHost, ":") {
		return c.ClickHouseHost
	}
	return fmt.Sprintf("%s:%d", c.ClickHouseHost, c.ClickHousePort)
}

// TableFQN returns database.table for the label table.
func (c *Config) TableFQN() string {
	return fmt.Sprintf("%s.%s", c.ClickHouseDatabase, c.ClickHouseTable)
}

// Range layouts accepted for Start and End, most specific first.
var rangeLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// DownloadRange parses Start and End as UTC times.
func (c *Config) DownloadRange() (time.Time, time.Time, error) {
	start, err := parseRangeTime(c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseRangeTime(c.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", c.End, c.Start)
	}
	return start, end, nil
}

func parseRangeTime(s string) (time.Time, error) {
	for _, layout := range rangeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as YYYY-MM-DD[THH:MM[:SS]]", s)
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/KI7MT/flare-lab/internal/common"
)

// BucketCount is one row of the label distribution.
type BucketCount struct {
	Bucket string
	Count  uint64
}

// MonthlyCount is one row of the per-month label distribution.
type MonthlyCount struct {
	Month  time.Time
	Bucket string
	Count  uint64
}

// DistributionSQL counts rows per bucket, most populated first.
func DistributionSQL(tableFQN string) string {
	return fmt.Sprintf(`SELECT bucket, count() AS n
FROM %s
GROUP BY bucket
ORDER BY n DESC, bucket`, tableFQN)
}

// MonthlySQL counts rows per month and bucket.
func MonthlySQL(tableFQN string) string {
	return fmt.Sprintf(`SELECT toStartOfMonth(image_time) AS month, bucket, count() AS n
FROM %s
GROUP BY month, bucket
ORDER BY month, bucket`, tableFQN)
}

// Open connects through the clickhouse-go/v2 driver using cfg.
func Open(ctx context.Context, cfg *common.Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr()},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("ClickHouse connection failed: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ClickHouse ping failed: %w", err)
	}
	return conn, nil
}

// Querier runs a read query. driver.Conn satisfies it.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

// Reporter reads label distributions from the label table.
type Reporter struct {
	Conn  Querier
	Table string
}

// Distribution returns row counts per bucket.
func (r *Reporter) Distribution(ctx context.Context) ([]BucketCount, error) {
	rows, err := r.Conn.Query(ctx, DistributionSQL(r.Table))
	if err != nil {
		return nil, fmt.Errorf("distribution query: %w", err)
	}
	defer rows.Close()

	var out []BucketCount
	for rows.Next() {
		var bc BucketCount
		if err := rows.Scan(&bc.Bucket, &bc.Count); err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// Monthly returns row counts per month and bucket.
func (r *Reporter) Monthly(ctx context.Context) ([]MonthlyCount, error) {
	rows, err := r.Conn.Query(ctx, MonthlySQL(r.Table))
	if err != nil {
		return nil, fmt.Errorf("monthly query: %w", err)
	}
	defer rows.Close()

	var out []MonthlyCount
	for rows.Next() {
		var mc MonthlyCount
		if err := rows.Scan(&mc.Month, &mc.Bucket, &mc.Count); err != nil {
			return nil, fmt.Errorf("scan monthly: %w", err)
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}
